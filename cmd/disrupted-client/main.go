// Command disrupted-client is the interactive caller-side prompt: it
// loads or generates a user identity, dials a node, and accepts
// "put <key> <value>" / "get <key>" lines until EOF or interrupt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/disrupted-codes/disrupted-data/internal/client"
	"github.com/disrupted-codes/disrupted-data/internal/constants"
	"github.com/disrupted-codes/disrupted-data/internal/identity"
	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

var (
	keyPath  string
	nodeIP   string
	nodePort string
	nodePeer string
)

var rootCmd = &cobra.Command{
	Use:   "disrupted-client",
	Short: "Interactively PUT/GET signed records against a disrupted-data node",
	RunE:  run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&keyPath, "key", "", "path to the user's key file")
	rootCmd.Flags().StringVar(&nodeIP, "ip", constants.DefaultIPAddress, "node IP address")
	rootCmd.Flags().StringVar(&nodePort, "port", constants.DefaultPort, "node port")
	rootCmd.Flags().StringVar(&nodePeer, "peer", "", "node's libp2p peer ID (printed by disrupted-node at startup)")
	_ = rootCmd.MarkFlagRequired("key")
	_ = rootCmd.MarkFlagRequired("peer")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "disrupted-client: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()

	kp, err := identity.LoadOrGenerate(keyPath)
	if err != nil {
		return fmt.Errorf("loading key: %w", err)
	}

	addr, err := client.ParseNodeAddr(nodeIP, nodePort, nodePeer)
	if err != nil {
		return fmt.Errorf("parsing node address: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(ctx, kp, addr, log)
	if err != nil {
		return fmt.Errorf("connecting to node: %w", err)
	}
	defer c.Close()

	prompt(ctx, c, kp)
	return nil
}

func prompt(ctx context.Context, c *client.Client, kp *identity.KeyPair) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("disrupted-data >> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		action, err := client.ParseAction(line, kp)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if _, ok := action.(wire.Unknown); ok {
			fmt.Println("Usage:")
			fmt.Println("put <key> <value>")
			fmt.Println("get <key>")
			continue
		}

		res, err := c.ProcessAction(ctx, action)
		if err != nil {
			fmt.Printf("Error executing action: %v\n", err)
			continue
		}
		fmt.Printf("Response: %s\n", res.Message)
	}
}

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l.WithField("component", "client")
}
