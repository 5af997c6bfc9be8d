package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeadLettersCommand(svc Services) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List jobs that exhausted their attempts or failed permanently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if svc.DeadLetters == nil {
				return errors.New("dead-letter admin not configured")
			}
			jobs, err := svc.DeadLetters.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}
			if len(jobs) == 0 {
				cmd.Println("No dead-lettered jobs")
				return nil
			}
			for i := range jobs {
				cmd.Printf("%s\n", jobs[i].ID)
				cmd.Printf("    Document: %s (rev %d)\n", jobs[i].DocumentID, jobs[i].Revision)
				cmd.Printf("    Kind:     %s, attempt %d\n", jobs[i].Kind, jobs[i].Attempt)
				cmd.Printf("    Age:      %s\n", age(jobs[i].UpdatedAt))
				cmd.Printf("    Error:    %s\n", jobs[i].LastError)
			}
			cmd.Printf("\nTotal: %d jobs\n", len(jobs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to list")
	return cmd
}

func newRequeueCommand(svc Services) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [job-id]",
		Short: "Move a dead-lettered job back to the queue with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if svc.DeadLetters == nil {
				return errors.New("dead-letter admin not configured")
			}
			if err := svc.DeadLetters.Requeue(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to requeue job: %w", err)
			}
			cmd.Printf("Job %s requeued\n", args[0])
			return nil
		},
	}
}
