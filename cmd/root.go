package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"codesmith/internal/config"
	"codesmith/internal/service/ai"
	"codesmith/internal/service/assistant"
	"codesmith/internal/worker"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "codesmith",
	Short: "CodeSmith AI coding assistant backed by a local Ollama model",
	Long: `codesmith keeps a running conversation with a locally hosted model and
sends the whole history with every turn.

Run "codesmith serve" for the HTTP API or "codesmith chat" for a terminal session.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.{json,yaml,toml})")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initLogging() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if verbose {
		worker.SetDebug(true)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CODESMITH_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newManager(cfg *config.Config) *worker.Manager {
	return worker.NewManager(assistant.NewService(), ai.NewRegistry(cfg), worker.Options{
		TTL:       time.Duration(cfg.BasicConfig.SessionTTLMinutes) * time.Minute,
		QueueSize: cfg.BasicConfig.SessionQueueSize,
	})
}
