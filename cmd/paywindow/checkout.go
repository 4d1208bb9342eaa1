package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/paywindow/internal/app"
	"github.com/noah-isme/paywindow/internal/paylink"
)

type checkoutResult struct {
	Link paylink.Link `json:"link"`
	sessionResult
}

func checkoutCmd() *cobra.Command {
	var (
		req       paylink.CreateRequest
		expiresIn time.Duration
		opts      windowFlags
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create a payment link and open it",
		Long: `Create a hosted payment link through the payment API, open it in a payment
window and print the link together with the session outcome.

Examples:
  paywindow checkout --title "Order 1042" --amount 129900 --currency IDR
  paywindow checkout --title "Donation" --expires-in 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCallbackServer(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				if err := deps.Config.RequirePaymentAPI(); err != nil {
					return err
				}
				if err := deps.Config.RequireBrowser(); err != nil {
					return err
				}
				if expiresIn > 0 {
					at := time.Now().Add(expiresIn)
					req.ExpiresAt = &at
				}
				link, out, err := deps.Engine.Checkout(ctx, req, opts.apply(deps.WindowOptions()))
				if link.ID == "" {
					return err
				}
				logOutcome(deps.Logger, err)
				res := checkoutResult{Link: link, sessionResult: sessionResult{Outcome: out}}
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
	cmd.Flags().StringVar(&req.Title, "title", "", "payment title shown to the payer")
	cmd.Flags().StringVar(&req.Description, "description", "", "optional description")
	cmd.Flags().Int64Var(&req.Amount, "amount", 0, "amount in minor units; omit to let the payer choose")
	cmd.Flags().StringVar(&req.Currency, "currency", "", "ISO 4217 currency, required with --amount")
	cmd.Flags().StringVar(&req.Reference, "reference", "", "merchant reference echoed by the provider")
	cmd.Flags().StringVar(&req.ReturnURL, "return-url", "", "page the provider redirects to after payment")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "link lifetime, e.g. 30m")
	_ = cmd.MarkFlagRequired("title")
	opts.register(cmd)
	return cmd
}
