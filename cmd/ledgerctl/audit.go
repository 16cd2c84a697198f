package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/application/reconciliation"
	"github.com/ledgerlink/backend/internal/bootstrap"
	"github.com/spf13/cobra"
)

func auditCmd(opts *globalOptions) *cobra.Command {
	var (
		company string
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report links whose ledger entry or document no longer resolves",
		Long: `Scan every cross-store link and report:
- linked documents whose ledger entry is gone
- links whose document is gone
- posting claims older than reconciliation.stale_claim_after
- links left in posting_failed

The scan writes nothing unless --publish is set, in which case new findings
are recorded and published as reconciliation markers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := reconciliation.AuditFilter{}
			if company != "" {
				id, err := uuid.Parse(company)
				if err != nil {
					return fmt.Errorf("invalid company id %q", company)
				}
				filter.CompanyID = &id
			}
			if publish && filter.CompanyID != nil {
				return fmt.Errorf("--publish audits every company and cannot be combined with --company")
			}

			return runWithApp(cmd, opts, func(ctx context.Context, app *bootstrap.Container) error {
				if publish {
					n, err := app.Resolver.RunAudit(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "published %d new finding(s)\n", n)
					return nil
				}

				orphans, err := app.Resolver.AuditOrphans(ctx, filter)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), orphans)
				}
				return printOrphans(cmd, orphans)
			})
		},
	}

	cmd.Flags().StringVar(&company, "company", "", "Only audit links of this company")
	cmd.Flags().BoolVar(&publish, "publish", false, "Record and publish new findings")

	return cmd
}

func printOrphans(cmd *cobra.Command, orphans []reconciliation.OrphanedLink) error {
	if len(orphans) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no orphaned links")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tDOCUMENT\tCOMPANY\tSTATE\tVERSION\tDETAIL")
	for _, o := range orphans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			o.Kind, o.Link.DocumentID, o.Link.CompanyID, o.Link.State, o.Link.Version, o.Detail)
	}
	return w.Flush()
}
