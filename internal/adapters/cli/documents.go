package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
)

const timeLayout = "2006-01-02 15:04:05"

func newStatusCommand(svc Services) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status [doc-id]",
		Short: "Show a document's processing state, or list recent documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if svc.Reader == nil {
				return errors.New("document reader not configured")
			}
			if len(args) == 0 {
				docs, err := svc.Reader.List(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("failed to list documents: %w", err)
				}
				if len(docs) == 0 {
					cmd.Println("No documents")
					return nil
				}
				for i := range docs {
					cmd.Printf("%s  %-10s  rev %d  %s\n", docs[i].ID, docs[i].State, docs[i].Revision, docs[i].UpdatedAt.Format(timeLayout))
				}
				return nil
			}

			doc, err := svc.Reader.GetByID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get document: %w", err)
			}
			printDocument(cmd, doc)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of documents to list")
	return cmd
}

func printDocument(cmd *cobra.Command, doc *domain.Document) {
	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  State:    %s\n", doc.State)
	cmd.Printf("  Revision: %d\n", doc.Revision)
	if len(doc.Tags) > 0 {
		cmd.Printf("  Tags:     %s\n", strings.Join(doc.Tags, ", "))
	}
	cmd.Printf("  Created:  %s\n", doc.CreatedAt.Format(timeLayout))
	cmd.Printf("  Updated:  %s\n", doc.UpdatedAt.Format(timeLayout))

	if len(doc.SourceFiles) > 0 {
		cmd.Println("\n  Files:")
		for _, f := range doc.SourceFiles {
			cmd.Printf("    %s (%s, %d bytes)\n", f.Filename, f.MimeType, f.ByteSize)
		}
	}
	if doc.ErrorInfo != nil {
		cmd.Println("\n  Error:")
		cmd.Printf("    Kind:   %s\n", doc.ErrorInfo.Kind)
		cmd.Printf("    Stage:  %s\n", doc.ErrorInfo.Stage)
		if doc.ErrorInfo.Failure != "" {
			cmd.Printf("    Failure: %s\n", doc.ErrorInfo.Failure)
		}
		cmd.Printf("    Reason: %s\n", doc.ErrorInfo.Reason)
	}
}

func newReprocessCommand(svc Services) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess [doc-id]",
		Short: "Run the ingestion pipeline again under a new revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if svc.Admin == nil {
				return errors.New("document admin not configured")
			}
			doc, err := svc.Admin.Reprocess(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to reprocess document: %w", err)
			}
			cmd.Printf("Document %s queued as revision %d\n", doc.ID, doc.Revision)
			return nil
		},
	}
}

func newExportCommand(svc Services) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [doc-id]",
		Short: "Write the chat report of a document as PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if svc.Exporter == nil {
				return errors.New("report exporter not configured")
			}
			report, err := svc.Exporter.Export(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to export report: %w", err)
			}

			path := out
			if path == "" {
				path = report.Filename
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			if err := os.WriteFile(path, report.Body, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			cmd.Printf("Wrote %s (%d bytes)\n", path, len(report.Body))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (defaults to the report file name)")
	return cmd
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String()
}
