package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	Root = &cobra.Command{
		Use:          "transformer",
		Short:        "transformer runs an asynchronous record transform between Kafka topics",
		SilenceUsage: true,
	}
)

func init() {
	Root.PersistentFlags().StringVarP(
		&configPath, "config", "c", "transformer.yml",
		"path to the YAML config file; TRANSFORMER__ environment variables override it",
	)
	Root.AddCommand(runCmd, pingCmd)
}
