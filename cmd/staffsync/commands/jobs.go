package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/staffsync/errors"
	"github.com/teranos/staffsync/sched"
)

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List scheduled jobs",
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (pending|running|done|failed|cancelled)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var statusFilter *sched.JobStatus
	if jobsStatus != "" {
		if !sched.IsValidStatus(jobsStatus) {
			return errors.NewInvalidRequestError("unknown status %q", jobsStatus)
		}
		s := sched.JobStatus(jobsStatus)
		statusFilter = &s
	}

	jobs, err := eng.store.ListJobs(statusFilter, jobsLimit)
	if err != nil {
		return err
	}

	counts, err := eng.store.CountByStatus()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCORRELATION\tSTATUS\tATTEMPTS\tRUN AT\tLAST ERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Type, j.CorrelationID, j.Status, j.Attempts,
			j.RunAt.Format(time.RFC3339), j.LastError)
	}
	w.Flush()

	fmt.Printf("\n%d shown; totals:", len(jobs))
	for _, s := range []sched.JobStatus{
		sched.JobStatusPending, sched.JobStatusRunning, sched.JobStatusDone,
		sched.JobStatusFailed, sched.JobStatusCancelled,
	} {
		fmt.Printf(" %s=%d", s, counts[s])
	}
	fmt.Println()
	return nil
}
