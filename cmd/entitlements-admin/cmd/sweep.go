package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger scheduled billing jobs",
}

var sweepRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one status-transition sweep now",
	RunE:  runSweep,
}

var sweepSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Capture today's usage snapshots now",
	RunE:  runSnapshots,
}

func init() {
	sweepCmd.AddCommand(sweepRunCmd, sweepSnapshotsCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	data, err := client.Post(cmd.Context(), "/api/v1/admin/sweep", nil)
	if err != nil {
		return err
	}

	var report SweepReport
	if err := unmarshal(data, &report); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := render(out, report); done {
		return err
	}

	fmt.Fprintf(out, "Candidates:    %d\n", report.Candidates)
	fmt.Fprintf(out, "Transitioned:  %d\n", len(report.Transitioned))
	fmt.Fprintf(out, "Failures:      %d\n", len(report.Failures))
	if len(report.Transitioned) > 0 {
		fmt.Fprintln(out)
		t := newTable(out, "ORGANIZATION", "FROM", "TO")
		for _, tr := range report.Transitioned {
			t.AddRow(tr.OrganizationID, tr.From, tr.To)
		}
		if err := t.Flush(); err != nil {
			return err
		}
	}
	if len(report.Failures) > 0 {
		fmt.Fprintln(out)
		t := newTable(out, "ORGANIZATION", "ERROR")
		for _, f := range report.Failures {
			t.AddRow(f.OrganizationID, f.Error)
		}
		return t.Flush()
	}
	return nil
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	data, err := client.Post(cmd.Context(), "/api/v1/admin/usage/snapshots", nil)
	if err != nil {
		return err
	}

	var report map[string]any
	if err := unmarshal(data, &report); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if done, err := render(out, report); done {
		return err
	}
	return printYAML(out, report)
}
