package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	docapp "github.com/ledgerlink/backend/internal/application/document"
	"github.com/ledgerlink/backend/internal/bootstrap"
	"github.com/spf13/cobra"
)

func resolveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <document-id>",
		Short: "Show the ledger entry a linked document posted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *bootstrap.Container) error {
				entry, err := app.Resolver.Resolve(ctx, id)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), entry)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "entry     %s\ntype      %s\namount    %s %s\ndate      %s\n",
					entry.ID, entry.Type, entry.Amount.StringFixed(2), entry.Currency, entry.EntryDate.Format("2006-01-02"))
				if entry.ProjectID != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "project   %s\n", entry.ProjectID)
				}
				return nil
			})
		},
	}
}

func reviewCmd(opts *globalOptions) *cobra.Command {
	var (
		approve bool
		reject  bool
		project string
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "review <document-id>",
		Short: "Approve or reject a document waiting for review",
		Long: `Approve posts the stored extraction, optionally under another project.
Reject keeps the document in needs_review and resolves its marker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			req := docapp.ReviewRequest{Decision: "approve", Reason: reason}
			if reject {
				req.Decision = "reject"
			}
			if project != "" {
				if reject {
					return fmt.Errorf("--project only applies to --approve")
				}
				pid, err := uuid.Parse(project)
				if err != nil {
					return fmt.Errorf("invalid project id %q", project)
				}
				req.ProjectID = &pid
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *bootstrap.Container) error {
				out, err := app.Documents.Review(ctx, id, req)
				if err != nil {
					return err
				}
				return printOutcome(cmd, opts, out)
			})
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "Approve and post the extraction")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the extraction")
	cmd.Flags().StringVar(&project, "project", "", "Post under this project instead of the extracted one")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the decision")

	return cmd
}

func clearCorruptCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-corrupt <document-id>",
		Short: "Clear the corrupt flag after the content was restored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *bootstrap.Container) error {
				doc, err := app.Documents.ClearCorrupt(ctx, id)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), doc)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "document %s cleared, status %s\n", doc.ID, doc.Status)
				return nil
			})
		},
	}
}

func repairCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <document-id>",
		Short: "Finish a posting whose document-side writes failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *bootstrap.Container) error {
				out, err := app.Documents.Repair(ctx, id)
				if err != nil {
					return err
				}
				return printOutcome(cmd, opts, out)
			})
		},
	}
}

func processCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <document-id>",
		Short: "Run extraction and posting for an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *bootstrap.Container) error {
				out, err := app.Documents.Process(ctx, id)
				if err != nil {
					return err
				}
				return printOutcome(cmd, opts, out)
			})
		},
	}
}

func printOutcome(cmd *cobra.Command, opts *globalOptions, out *docapp.OutcomeResponse) error {
	if opts.json {
		return printJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "document  %s\nresult    %s\nstatus    %s (%s)\n",
		out.DocumentID, out.Result, out.Status, out.InternalStatus)
	if out.LedgerEntryID != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "entry     %s\n", out.LedgerEntryID)
	}
	if out.Reason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "reason    %s\n", out.Reason)
	}
	return nil
}
