package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/core/service"
)

func newPurchasesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "purchases",
		Aliases: []string{"purchase"},
		Short:   "Inspect and expire pending purchases",
	}
	cmd.AddCommand(newPurchasesListCommand(opts), newPurchasesExpireCommand(opts))
	return cmd
}

// purchaseService builds a fulfillment service that only touches the
// purchase table; the admin commands never send mail or take payments.
func purchaseService(s *session) *service.FulfillmentService {
	return service.NewFulfillmentService(service.Dependencies{
		Catalog:   s.store,
		Purchases: s.store,
		Ledger:    s.store,
		Logger:    s.logger,
	}, service.FulfillmentConfig{QueueSize: 1})
}

func newPurchasesListCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent purchases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			svc := purchaseService(s)
			defer svc.Close()

			purchases, err := svc.ListPurchases(cmd.Context(), domain.PurchaseStatus(status), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tITEM\tEMAIL\tAMOUNT\tSTATUS\tCREATED")
			for _, p := range purchases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d %s\t%s\t%s\n",
					p.ID, p.ItemID, p.Email, p.Amount, p.Currency, p.Status, p.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (initiated, fulfilled, failed, abandoned)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	return cmd
}

func newPurchasesExpireCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Mark purchases still waiting for payment as abandoned",
		Long: `Moves purchases that stayed initiated longer than --older-than to
abandoned. Defaults to fulfillment.purchase_expiry from the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = s.cfg.Fulfillment.PurchaseExpiry
			}

			svc := purchaseService(s)
			defer svc.Close()

			n, err := svc.ExpireAbandoned(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d purchases\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Age after which an initiated purchase is abandoned")
	return cmd
}
