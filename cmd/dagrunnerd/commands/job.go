package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newJobCmd creates the `dagrunnerd job` command group.
func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs and their task DAGs",
		Long: `Create jobs, add tasks and dependencies to their DAG, and control
their execution.

Examples:
  dagrunnerd job add nightly-build
  dagrunnerd job add-task nightly-build compile "make all"
  dagrunnerd job add-task nightly-build deploy "make deploy" --host build-1
  dagrunnerd job add-dep nightly-build compile deploy
  dagrunnerd job start nightly-build`,
	}

	cmd.AddCommand(
		newJobListCmd(),
		newJobShowCmd(),
		newJobAddCmd(),
		newJobDeleteCmd(),
		newJobAddTaskCmd(),
		newJobAddJobTaskCmd(),
		newJobAddDepCmd(),
		newJobStartCmd(),
		newJobRetryCmd(),
		newJobTerminateCmd(),
		newJobKillCmd(),
	)
	return cmd
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every job known to the engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			jobs := o.engine.Jobs()
			if len(jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}
			for _, j := range jobs {
				next := "-"
				if t, ok := j.NextRun(); ok {
					next = t.Format(time.RFC3339)
				}
				fmt.Printf("%-24s %-10s cron=%-15q next_run=%s\n", j.Name(), j.State().Status, j.CronSchedule(), next)
			}
			return nil
		},
	}
}

func newJobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job>",
		Short: "Show a single job's state and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			j, ok := o.engine.Job(args[0])
			if !ok {
				return fmt.Errorf("job %q not found", args[0])
			}
			fmt.Printf("name:   %s\n", j.Name())
			fmt.Printf("status: %s\n", j.State().Status)
			fmt.Printf("cron:   %s\n", j.CronSchedule())
			if notes := j.Notes(); notes != "" {
				fmt.Printf("notes:  %s\n", notes)
			}
			return nil
		},
	}
}

func newJobAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a new, empty job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			if _, err := o.engine.AddJob(args[0]); err != nil {
				return err
			}
			fmt.Printf("job %q created.\n", args[0])
			return nil
		},
	}
}

func newJobDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a job and its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.engine.DeleteJob(args[0]); err != nil {
				return err
			}
			fmt.Printf("job %q deleted.\n", args[0])
			return nil
		},
	}
}

func newJobAddTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-task <job> <task> <command>",
		Short: "Add a shell task to a job's DAG",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			host, _ := cmd.Flags().GetString("host")
			soft, _ := cmd.Flags().GetDuration("soft-timeout")
			hard, _ := cmd.Flags().GetDuration("hard-timeout")

			if err := o.engine.AddTaskToJob(args[0], args[1], args[2], host, soft, hard); err != nil {
				return err
			}
			fmt.Printf("task %q added to job %q.\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().String("host", "", "SSH host alias to run this task on (empty runs locally)")
	cmd.Flags().Duration("soft-timeout", 0, "soft timeout before the task is terminated (SIGTERM locally, session close over SSH)")
	cmd.Flags().Duration("hard-timeout", 0, "hard timeout before the task is killed")
	return cmd
}

func newJobAddJobTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-jobtask <job> <task> <target-job>",
		Short: "Add a task that invokes another job as a node in this job's DAG",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.engine.AddJobTaskToJob(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("jobtask %q (-> %q) added to job %q.\n", args[1], args[2], args[0])
			return nil
		},
	}
}

func newJobAddDepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-dep <job> <upstream> <downstream>",
		Short: "Add a dependency edge between two tasks in a job's DAG",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.engine.AddDependencyToJob(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("dependency %q -> %q added to job %q.\n", args[1], args[2], args[0])
			return nil
		},
	}
}

func newJobStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <job>",
		Short: "Start a job's root tasks immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			j, ok := o.engine.Job(args[0])
			if !ok {
				return fmt.Errorf("job %q not found", args[0])
			}
			if err := j.Start(); err != nil {
				return err
			}
			fmt.Printf("job %q started.\n", args[0])
			return nil
		},
	}
}

func newJobRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job>",
		Short: "Re-run a job's failed tasks, reusing its last run log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			j, ok := o.engine.Job(args[0])
			if !ok {
				return fmt.Errorf("job %q not found", args[0])
			}
			if err := j.Retry(); err != nil {
				return err
			}
			fmt.Printf("job %q retried.\n", args[0])
			return nil
		},
	}
}

func newJobTerminateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <job>",
		Short: "Send a soft interrupt to every running task in a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			j, ok := o.engine.Job(args[0])
			if !ok {
				return fmt.Errorf("job %q not found", args[0])
			}
			j.TerminateAll()
			fmt.Printf("job %q terminated.\n", args[0])
			return nil
		},
	}
}

func newJobKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job>",
		Short: "Forcibly kill every running task in a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openEngineForCLI(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			j, ok := o.engine.Job(args[0])
			if !ok {
				return fmt.Errorf("job %q not found", args[0])
			}
			j.KillAll()
			fmt.Printf("job %q killed.\n", args[0])
			return nil
		},
	}
}
