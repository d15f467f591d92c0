package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/executor"
	"github.com/viewmill/viewmill/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the project's pages with live reload",
	Long: `Start the page server. Templates under the configured root are
discovered and compiled, changed files are recompiled on the next
request, and connected browsers reload over a websocket when sources
change.

Examples:
  viewmill serve                   # Serve the current directory
  viewmill serve --root ./site     # Serve another template root
  viewmill serve --no-watch        # Disable change watching`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 7070, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().StringP("root", "r", ".", "Template root directory")
	serveCmd.Flags().Bool("no-watch", false, "Disable change watching and live reload")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("source.root", serveCmd.Flags().Lookup("root"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Watch = false
	}

	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := openProject(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	exec := executor.New(reg, cfg, log)

	srv, err := server.New(cfg, reg, exec, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Cancelling the context shuts the server down gracefully.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s:%d\n",
		cfg.Source.Root, cfg.Server.Host, cfg.Server.Port)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
