package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/paywindow/internal/app"
	"github.com/noah-isme/paywindow/internal/config"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/server"
)

var Version = "dev"

const shutdownGrace = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paywindow",
		Short:         "Open hosted payment pages and wait for their outcome",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(openCmd())
	rootCmd.AddCommand(checkoutCmd())
	rootCmd.AddCommand(linksCmd())
	return rootCmd
}

// bootstrap loads configuration and wires dependencies. Logs go to stderr so
// command output on stdout stays machine readable.
func bootstrap(cmd *cobra.Command) (*app.Dependencies, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := obs.NewLogger(cmd.ErrOrStderr(), cfg.Obs.LogFormat, cfg.Obs.LogLevel).
		With().Str("env", cfg.AppEnv).Logger()
	return app.Build(cmd.Context(), cfg, logger, app.Options{})
}

// withCallbackServer runs fn while the callback server accepts provider
// notifications, then drains the server and tears the engine down.
func withCallbackServer(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	deps, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer closeDeps(deps)

	srv, err := server.Listen(deps.Config.CallbackAddr, deps.Router, deps.Logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(srv.Serve)
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				deps.Logger.Error().Err(err).Msg("shutdown callback server")
			}
		}()
		return fn(ctx, deps)
	})
	return g.Wait()
}

func closeDeps(deps *app.Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := deps.Close(ctx); err != nil {
		deps.Logger.Error().Err(err).Msg("close dependencies")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func logOutcome(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Warn().Err(err).Msg("payment_session_failed")
	}
}
