package cli

import (
	"github.com/spf13/cobra"

	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

// Services are the use cases the admin commands drive.
type Services struct {
	Reader      ports.DocumentReader
	Admin       ports.DocumentAdmin
	DeadLetters ports.DeadLetterAdmin
	Exporter    ports.ReportExporter
}

func NewRootCommand(svc Services) *cobra.Command {
	root := &cobra.Command{
		Use:           "docctl",
		Short:         "Operate the document intelligence pipeline",
		Long:          `Inspect documents, manage dead-lettered jobs, trigger reprocessing and export chat reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStatusCommand(svc),
		newDeadLettersCommand(svc),
		newRequeueCommand(svc),
		newReprocessCommand(svc),
		newExportCommand(svc),
	)
	return root
}
