package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/vigil/internal/config"
)

var configureFlags struct {
	apiKey       string
	model        string
	addr         string
	sharedSecret string
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the gateway configuration file",
	Long: `Write the Vigil configuration file, merging the given flags over the
existing configuration (or the defaults on first run).`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureFlags.apiKey, "api-key", "", "model API key (sk-ant-...)")
	configureCmd.Flags().StringVar(&configureFlags.model, "model", "", "model identifier")
	configureCmd.Flags().StringVar(&configureFlags.addr, "addr", "", "gateway listen address")
	configureCmd.Flags().StringVar(&configureFlags.sharedSecret, "shared-secret", "", "gateway shared secret")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configureFlags.apiKey != "" {
		cfg.Model.APIKey = configureFlags.apiKey
	}
	if configureFlags.model != "" {
		cfg.Model.Model = configureFlags.model
	}
	if configureFlags.addr != "" {
		cfg.Gateway.Addr = configureFlags.addr
	}
	if configureFlags.sharedSecret != "" {
		cfg.Gateway.SharedSecret = configureFlags.sharedSecret
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved.")
	fmt.Fprintln(cmd.OutOrStdout(), "Start the gateway with: vigil start")
	return nil
}
