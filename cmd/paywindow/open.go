package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/noah-isme/paywindow/internal/app"
	"github.com/noah-isme/paywindow/internal/session"
)

type sessionResult struct {
	Outcome session.Outcome `json:"outcome"`
	Error   string          `json:"error,omitempty"`
}

func openCmd() *cobra.Command {
	var opts windowFlags
	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Open a payment page and print the session outcome",
		Long: `Open a hosted payment page in its own window and wait until the provider
reports a result, the window is closed, or the session times out.

Examples:
  paywindow open https://pay.example/checkout/123
  paywindow open --width 800 --height 900 https://pay.example/checkout/123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCallbackServer(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				if err := deps.Config.RequireBrowser(); err != nil {
					return err
				}
				out, err := deps.Engine.OpenPaymentSession(ctx, args[0], opts.apply(deps.WindowOptions()))
				if err != nil && out.Kind == "" {
					return err
				}
				logOutcome(deps.Logger, err)
				res := sessionResult{Outcome: out}
				if err != nil {
					res.Error = err.Error()
				}
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	opts.register(cmd)
	return cmd
}
