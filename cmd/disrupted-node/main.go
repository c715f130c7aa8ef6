// Command disrupted-node runs a single node of the disrupted-data DHT:
// it loads or generates its identity, joins the swarm, and serves
// signed PUT/GET actions until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/disrupted-codes/disrupted-data/internal/node"
)

const shutdownGrace = 10 * time.Second

var keyLocation string

var rootCmd = &cobra.Command{
	Use:   "disrupted-node",
	Short: "Run a disrupted-data DHT node",
	RunE:  run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&keyLocation, "key-location", "k", "", "path to the node's TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "disrupted-node: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := node.Load(keyLocation)
	if err != nil {
		log.Errorf("loading config: %v", err)
		return err
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Warnf("opening log file %s: %v", cfg.LogFile, err)
		} else {
			log.Logger.SetOutput(f)
			defer f.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, log)
	if err != nil {
		log.Errorf("constructing node: %v", err)
		return err
	}

	if err := n.Start(ctx); err != nil {
		log.Errorf("starting node: %v", err)
		return err
	}
	log.Infof("node listening on /ip4/%s/tcp/%s (peer %s)", cfg.IPAddress, cfg.Port, n.Host.ID())

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return n.Stop(shutdownCtx)
}

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l.WithField("component", "node")
}
