package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

var (
	configPath   string
	outputFormat string
	rootCmd      = &cobra.Command{
		Use:   "coordinator",
		Short: "Factory Coordinator - production request workflow engine",
		Long: `Factory Coordinator tracks production-adjustment requests sent to factories.
It moves each request through a fixed status lifecycle with an append-only
audit trail, reads free-text factory replies with an AI extraction call,
and sweeps open requests to escalate the ones past their deadlines.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "table", "output format: table, json, yaml")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	})
}

// exactArgs is cobra.ExactArgs reporting as a validation failure
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return nil
	}
}

// cliError is the structured failure printed to stderr
type cliError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		out, _ := json.Marshal(cliError{Kind: domain.Kind(err), Message: err.Error()})
		fmt.Fprintln(os.Stderr, string(out))
		os.Exit(1)
	}
}
