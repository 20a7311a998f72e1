package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/pkg/uploadclient"
)

var healthServer string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the upload service and its backend",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthServer, "server", "", "upload service URL (overrides client.server_url)")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	server := healthServer
	if server == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		server = cfg.Client.ServerURL
	}

	ctx, cancel := context.WithTimeout(cmdContext(cmd), 10*time.Second)
	defer cancel()

	h, err := uploadclient.NewHTTPClient(server, &http.Client{}).Health(ctx)
	if err != nil {
		return err
	}
	if !h.OK {
		return fmt.Errorf("backend %s unhealthy: %s", h.Backend, h.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok (backend %s)\n", h.Backend)
	return nil
}
