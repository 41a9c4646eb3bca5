package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/ledger"
)

// grantCommand groups entitlement administration.
func (c *CLI) grantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage entitlement grants",
	}
	cmd.AddCommand(c.grantIssueCommand())
	return cmd
}

// grantIssueCommand issues a grant, as purchase fulfillment would.
func (c *CLI) grantIssueCommand() *cobra.Command {
	var (
		who       identityFlags
		quota     int
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue [product]",
		Short: "Issue export credits for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := who.identity()
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			l, err := c.openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer l.Store.Close()

			g := ledger.Grant{Identity: id, ProductID: args[0], Quota: quota}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				g.ExpiresAt = &at
			}
			g, err = l.IssueGrant(ctx, g)
			if err != nil {
				return err
			}

			printSuccess("Issued %s", StyleNumber.Render(fmt.Sprintf("%d credits", g.Quota)))
			printKeyValue("Grant", g.ID)
			printKeyValue("Owner", g.Identity.Key())
			printKeyValue("Product", g.ProductID)
			if g.ExpiresAt != nil {
				printKeyValue("Expires", g.ExpiresAt.Format(time.RFC3339))
			} else {
				printKeyValue("Expires", "never")
			}
			return nil
		},
	}

	who.register(cmd)
	cmd.Flags().IntVar(&quota, "quota", 1, "number of export credits")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "grant lifetime (0 = never expires)")
	return cmd
}

// summaryCommand prints the credit summary for an identity and product.
func (c *CLI) summaryCommand() *cobra.Command {
	var (
		who    identityFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "summary [product]",
		Short: "Show remaining export credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := who.identity()
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			l, err := c.openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer l.Store.Close()

			sum, err := l.Summarize(ctx, id, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(args[0], sum)
			return nil
		},
	}

	who.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
