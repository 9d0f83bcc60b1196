package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/tally/internal/stubservice"
)

var stubAddr string

// serveStubCmd runs the stand-in extraction service.
var serveStubCmd = &cobra.Command{
	Use:   "serve-stub",
	Short: "Serve a deterministic stand-in for the extraction service",
	Long: `Serve-stub answers POST /api/process_document with labelled tokens from
a small fixed lexicon, and GET /health with its status. It keeps the error
bodies of the real service: "No file part", "No selected file" and, with
--unavailable, 503 "ML Model not available".

Example:
  tally serve-stub --addr :8000
  tally serve-stub --unavailable`,
	Args: cobra.NoArgs,
	RunE: runServeStub,
}

func init() {
	rootCmd.AddCommand(serveStubCmd)
	flags := serveStubCmd.Flags()
	flags.StringVar(&stubAddr, "addr", "", "listen address host:port (default from config)")
	flags.Bool("unavailable", false, "answer every upload with 503")
	flags.Bool("include-outside", false, "keep tokens labelled O in responses")
	_ = viper.BindPFlag("stub.unavailable", flags.Lookup("unavailable"))
	_ = viper.BindPFlag("stub.include-outside", flags.Lookup("include-outside"))
}

func runServeStub(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	settings := stubservice.SettingsFromConfig(cfg)
	if stubAddr != "" {
		settings, err = settings.WithAddress(stubAddr)
		if err != nil {
			return fmt.Errorf("--addr %q: %w", stubAddr, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := stubservice.NewServer(settings, stubservice.WithLogger(logger.Named("stub")))
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stub extraction service on %s (unavailable=%t)\n", srv.Endpoint(), settings.Unavailable)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stub shutdown: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "served %d documents\n", srv.Processed())
	return nil
}
