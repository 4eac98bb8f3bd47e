package cmd

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"codesmith/internal/api"
	"codesmith/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides basic_config.server_address")
	rootCmd.AddCommand(serveCmd)
}

// runServe blocks serving the API until the listener fails. Sessions are
// closed before it returns.
func runServe(cfg *config.Config, addrOverride string) error {
	manager := newManager(cfg)
	defer manager.Close()

	handlers := api.NewHandler(manager)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addrOverride != "" {
		addr = addrOverride
	}
	if addr == "" {
		addr = ":8090"
	}
	log.Printf("codesmith listening on %s (provider %s, models %v)", addr, cfg.Generation.Provider, cfg.Generation.Models)
	if err := router.Run(addr); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
