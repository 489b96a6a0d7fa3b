package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingTimeout time.Duration

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured brokers are reachable",
		RunE:  pingE,
	}
)

func init() {
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 10*time.Second, "how long to wait for the brokers")
}

func pingE(cmd *cobra.Command, _ []string) error {
	cfg, zl, l, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	c, err := newClients(cfg, l)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
	defer cancel()

	if err := c.consumer.Ping(ctx); err != nil {
		l.Error("Brokers unreachable", "brokers", cfg.Kafka.Brokers, "error", err)
		return err
	}

	l.Info("Brokers reachable", "brokers", cfg.Kafka.Brokers)
	return nil
}
