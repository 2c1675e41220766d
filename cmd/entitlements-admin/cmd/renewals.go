package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var renewalsCmd = &cobra.Command{
	Use:     "renewals",
	Aliases: []string{"renewal"},
	Short:   "Review renewal requests",
}

var renewalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending renewal requests, oldest first",
	RunE:  runRenewalsList,
}

var renewalsApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve a pending renewal request",
	Long: `Approve a pending renewal request. Reference the payment already on
file with --payment-id, or record a new one with --amount.`,
	Args: cobra.ExactArgs(1),
	RunE: runRenewalsApprove,
}

var renewalsRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject a pending renewal request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRenewalsReject,
}

func init() {
	renewalsListCmd.Flags().Int("limit", 100, "Maximum number of requests")

	renewalsApproveCmd.Flags().String("payment-id", "", "Existing payment record ID")
	renewalsApproveCmd.Flags().String("amount", "", "Amount received, records a new payment")
	renewalsApproveCmd.Flags().String("currency", "USD", "Currency of --amount")
	renewalsApproveCmd.Flags().String("method", "bank_transfer", "Payment method of --amount")
	renewalsApproveCmd.Flags().String("note", "", "Note stored with the decision")
	renewalsApproveCmd.MarkFlagsMutuallyExclusive("payment-id", "amount")

	renewalsRejectCmd.Flags().String("reason", "", "Reason shown to the organization (required)")
	_ = renewalsRejectCmd.MarkFlagRequired("reason")

	renewalsCmd.AddCommand(renewalsListCmd, renewalsApproveCmd, renewalsRejectCmd)
}

func runRenewalsList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	data, err := client.Get(cmd.Context(), "/api/v1/admin/renewals?limit="+strconv.Itoa(limit))
	if err != nil {
		return err
	}
	var resp struct {
		Data []RenewalResponse `json:"data"`
	}
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := render(out, resp.Data); done {
		return err
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No pending renewal requests.")
		return nil
	}

	t := newTable(out, "ID", "ORGANIZATION", "PLAN", "SCHOOLS", "REQUESTED")
	for _, r := range resp.Data {
		requested := r.RequestedAt
		t.AddRow(r.ID, r.OrganizationID, r.RequestedPlanID, strconv.Itoa(r.AdditionalSchools), timeStr(&requested))
	}
	return t.Flush()
}

func runRenewalsApprove(cmd *cobra.Command, args []string) error {
	paymentID, _ := cmd.Flags().GetString("payment-id")
	amount, _ := cmd.Flags().GetString("amount")
	currency, _ := cmd.Flags().GetString("currency")
	method, _ := cmd.Flags().GetString("method")
	note, _ := cmd.Flags().GetString("note")

	body := map[string]any{"note": note}
	switch {
	case paymentID != "":
		body["payment_record_id"] = paymentID
	case amount != "":
		body["payment"] = map[string]string{
			"amount":   amount,
			"currency": currency,
			"method":   method,
		}
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	data, err := client.Post(cmd.Context(), "/api/v1/admin/renewals/"+args[0]+"/approve", body)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagOutput == "table" {
		fmt.Fprintf(out, "Renewal %s approved.\n\n", args[0])
	}
	return printSubscription(out, data)
}

func runRenewalsReject(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	if reason == "" {
		return errors.New("--reason must not be empty")
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	data, err := client.Post(cmd.Context(), "/api/v1/admin/renewals/"+args[0]+"/reject", map[string]string{"reason": reason})
	if err != nil {
		return err
	}

	var r RenewalResponse
	if err := unmarshal(data, &r); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if done, err := render(out, r); done {
		return err
	}
	fmt.Fprintf(out, "Renewal %s %s: %s\n", r.ID, r.Status, orDash(r.RejectionReason))
	return nil
}
