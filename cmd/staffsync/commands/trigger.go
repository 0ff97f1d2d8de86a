package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/staffsync/lifecycle"
	"github.com/teranos/staffsync/sched"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Manually fire a lifecycle trigger",
	Long: `Fires the same entry points the webhook glue calls: prehire
provisioning and offboard disable/delete. Useful for backfills and for
re-driving an event whose webhook was lost.`,
}

var prehirePayload lifecycle.CreateFromCandidatePayload

var triggerPrehireCmd = &cobra.Command{
	Use:   "prehire",
	Short: "Schedule directory provisioning for a candidate",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		ack, err := eng.trigger.SchedulePrehire(cmd.Context(), prehirePayload)
		if err != nil {
			return err
		}
		return printAck(ack)
	},
}

var (
	offboardPayload  lifecycle.OffboardPayload
	offboardExitDate string
)

func newOffboardCmd(use, short string, jobType sched.JobType) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			ack, err := eng.trigger.ScheduleOffboard(cmd.Context(), jobType, offboardPayload, offboardExitDate)
			if err != nil {
				return err
			}
			return printAck(ack)
		},
	}
	c.Flags().StringVar(&offboardPayload.CorrelationID, "correlation-id", "", "employee id (required)")
	c.Flags().StringVar(&offboardPayload.BusinessID, "business-id", "", "directory business id")
	c.Flags().StringVar(&offboardPayload.Email, "email", "", "directory email")
	c.Flags().StringVar(&offboardPayload.PrincipalHint, "principal-hint", "", "directory username hint")
	c.Flags().StringVar(&offboardExitDate, "exit-date", "", "exit date YYYY-MM-DD (absent or past: execute immediately)")
	c.MarkFlagRequired("correlation-id")
	return c
}

func init() {
	f := triggerPrehireCmd.Flags()
	f.StringVar(&prehirePayload.CorrelationID, "correlation-id", "", "candidate id (required)")
	f.StringVar(&prehirePayload.FirstName, "first-name", "", "candidate first name (required)")
	f.StringVar(&prehirePayload.LastName, "last-name", "", "candidate last name (required)")
	f.StringVar(&prehirePayload.Email, "email", "", "explicit email (default: derived from name)")
	f.StringVar(&prehirePayload.BusinessID, "business-id", "", "explicit business id (default: sequence-assigned)")
	f.StringVar(&prehirePayload.JoinDate, "join-date", "", "join date YYYY-MM-DD")
	f.StringVar(&prehirePayload.EmployeeType, "employee-type", "", "employee type")
	f.StringVar(&prehirePayload.Domain, "domain", "", "email domain override")
	triggerPrehireCmd.MarkFlagRequired("correlation-id")
	triggerPrehireCmd.MarkFlagRequired("first-name")
	triggerPrehireCmd.MarkFlagRequired("last-name")

	triggerCmd.AddCommand(triggerPrehireCmd)
	triggerCmd.AddCommand(newOffboardCmd("offboard-disable", "Disable a directory principal on the exit date", sched.JobTypeDisableUser))
	triggerCmd.AddCommand(newOffboardCmd("offboard-delete", "Delete a directory principal on the exit date", sched.JobTypeDeleteUser))
	rootCmd.AddCommand(triggerCmd)
}

func printAck(ack *lifecycle.TriggerAck) error {
	out, err := json.MarshalIndent(ack, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
