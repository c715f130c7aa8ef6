// Package node assembles a Config value and builds the libp2p host,
// Kademlia DHT, and swarm loop a running node needs, per spec §4.F.
package node

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/disrupted-codes/disrupted-data/internal/constants"
)

// Config is the fully-resolved node configuration: package defaults,
// overridden by TOML file values, overridden in turn by env vars,
// resolved once at startup. No field is re-read from viper
// after Load returns.
type Config struct {
	IPAddress       string            `mapstructure:"ip_address"`
	Port            string            `mapstructure:"port"`
	NodeKeyLocation string            `mapstructure:"node_key_location"`
	LogFile         string            `mapstructure:"log_file"`
	BootstrapNodes  map[string]string `mapstructure:"bootstrap_nodes"`
}

// Load reads the TOML config at path (if non-empty) and resolves it
// against the IP_ADDRESS/PORT/NODE_KEY_LOCATION/BOOTSTRAP_NODES env vars
// and package defaults, in that precedence order (env overrides file,
// file overrides default), matching viper's own override layering.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("ip_address", constants.DefaultIPAddress)
	v.SetDefault("port", constants.DefaultPort)
	v.SetDefault("node_key_location", "")
	v.SetDefault("log_file", "")

	if err := v.BindEnv("ip_address", "IP_ADDRESS"); err != nil {
		return nil, fmt.Errorf("node: binding IP_ADDRESS: %w", err)
	}
	if err := v.BindEnv("port", "PORT"); err != nil {
		return nil, fmt.Errorf("node: binding PORT: %w", err)
	}
	if err := v.BindEnv("node_key_location", "NODE_KEY_LOCATION"); err != nil {
		return nil, fmt.Errorf("node: binding NODE_KEY_LOCATION: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("node: reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("node: unmarshaling config: %w", err)
	}

	cfg.BootstrapNodes = v.GetStringMapString("bootstrap_nodes")
	if env := os.Getenv("BOOTSTRAP_NODES"); env != "" {
		parsed, err := parseBootstrapTable(env)
		if err != nil {
			return nil, fmt.Errorf("node: parsing BOOTSTRAP_NODES: %w", err)
		}
		cfg.BootstrapNodes = parsed
	}

	if cfg.NodeKeyLocation == "" {
		return nil, fmt.Errorf("node: node_key_location is required (config file or NODE_KEY_LOCATION)")
	}

	return &cfg, nil
}

// parseBootstrapTable parses the literal `{peer_id=ip}` form the
// BOOTSTRAP_NODES env var carries, mirroring
// original_source's parse_string_to_table: one or more comma-separated
// peer_id=ip pairs wrapped in braces, each peer_id and ip optionally
// quoted or padded with whitespace.
func parseBootstrapTable(raw string) (map[string]string, error) {
	cleaned := strings.Trim(raw, "{}")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return map[string]string{}, nil
	}

	out := make(map[string]string)
	for _, entry := range strings.Split(cleaned, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("node: malformed bootstrap entry %q", entry)
		}
		key := strings.Trim(strings.TrimSpace(parts[0]), `"`)
		val := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if key == "" || val == "" {
			return nil, fmt.Errorf("node: malformed bootstrap entry %q", entry)
		}
		out[key] = val
	}
	return out, nil
}
