package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noah-isme/paywindow/internal/paylink"
)

func linksCmd() *cobra.Command {
	var (
		opts   paylink.ListOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "links",
		Short: "List payment links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)
			if err := deps.Config.RequirePaymentAPI(); err != nil {
				return err
			}

			page, err := deps.Links.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), page)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tAMOUNT\tTITLE\tURL")
			for _, l := range page.Links {
				amount := "-"
				if l.Amount > 0 {
					amount = paylink.FormatAmount(l.Amount, l.Currency)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.Status, amount, l.Title, l.URL)
			}
			if page.NextCursor != "" {
				fmt.Fprintf(tw, "\nnext cursor: %s\n", page.NextCursor)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum links to return")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (active, paid, expired)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}
