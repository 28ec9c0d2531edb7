package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newAccountsCmd prints accounts with their balance and subscription state.
func newAccountsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts, balances and subscription status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			accounts, err := st.accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tBALANCE\tSUBSCRIPTION\tPLAN")
			for _, a := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					a.ID, a.Email, a.Role, a.Balance, a.Subscription.Status, a.Subscription.PlanID)
			}
			return tw.Flush()
		},
	}
}
