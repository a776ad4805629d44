package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newScheduleCmd creates the `dagrunnerd schedule` command that sets a job's
// cron expression.
func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <job> <cron-expr>",
		Short: "Set a job's cron schedule",
		Long: `Set the cron expression a job advances by when the scheduler polls.
An empty cron expression suspends the job's automatic scheduling.

Examples:
  dagrunnerd schedule nightly-build "0 2 * * *"
  dagrunnerd schedule nightly-build ""`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.engine.ScheduleJob(args[0], args[1], time.Now().UTC()); err != nil {
				return err
			}
			fmt.Printf("job %q scheduled: %q\n", args[0], args[1])
			return nil
		},
	}
}
