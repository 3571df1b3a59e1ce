package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/vigil/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Check whether the configured Vigil gateway is up and report its health.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", cfg.Gateway.Addr))
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(cmd.OutOrStdout(), "Status: unhealthy (%d)\n", resp.StatusCode)
		return nil
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil && health.Status != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", health.Status)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: running")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", cfg.Gateway.Addr)
	return nil
}
