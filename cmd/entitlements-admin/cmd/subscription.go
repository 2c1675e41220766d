package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var subscriptionCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage an organization's subscription",
}

var subscriptionStatusCmd = &cobra.Command{
	Use:   "status ORG_ID",
	Short: "Show the subscription of an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionStatus,
}

var subscriptionActivateCmd = &cobra.Command{
	Use:   "activate ORG_ID",
	Short: "Activate a paid year for an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionActivate,
}

var subscriptionSuspendCmd = &cobra.Command{
	Use:   "suspend ORG_ID",
	Short: "Suspend an organization's subscription",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionSuspend,
}

func init() {
	subscriptionActivateCmd.Flags().String("plan", "", "Plan ID (required)")
	subscriptionActivateCmd.Flags().String("currency", "USD", "Currency of the payment")
	subscriptionActivateCmd.Flags().String("amount", "", "Amount paid, e.g. 1200.00 (required)")
	subscriptionActivateCmd.Flags().Int("additional-schools", 0, "Schools bought on top of the plan")
	subscriptionActivateCmd.Flags().String("method", "bank_transfer", "Payment method: bank_transfer, card, cash, manual")
	subscriptionActivateCmd.Flags().String("notes", "", "Note stored with the payment")
	_ = subscriptionActivateCmd.MarkFlagRequired("plan")
	_ = subscriptionActivateCmd.MarkFlagRequired("amount")

	subscriptionSuspendCmd.Flags().String("reason", "", "Reason shown to the organization")

	subscriptionCmd.AddCommand(subscriptionStatusCmd, subscriptionActivateCmd, subscriptionSuspendCmd)
}

func subscriptionPath(orgID, suffix string) (string, error) {
	if _, err := uuid.Parse(orgID); err != nil {
		return "", errors.New("organization id must be a UUID")
	}
	return "/api/v1/admin/organizations/" + orgID + "/subscription" + suffix, nil
}

func runSubscriptionStatus(cmd *cobra.Command, args []string) error {
	path, err := subscriptionPath(args[0], "")
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}
	return printSubscription(cmd.OutOrStdout(), data)
}

func runSubscriptionActivate(cmd *cobra.Command, args []string) error {
	path, err := subscriptionPath(args[0], "/activate")
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	planID, _ := cmd.Flags().GetString("plan")
	currency, _ := cmd.Flags().GetString("currency")
	amount, _ := cmd.Flags().GetString("amount")
	schools, _ := cmd.Flags().GetInt("additional-schools")
	method, _ := cmd.Flags().GetString("method")
	notes, _ := cmd.Flags().GetString("notes")

	data, err := client.Post(cmd.Context(), path, map[string]any{
		"plan_id":            planID,
		"currency":           currency,
		"amount_paid":        amount,
		"additional_schools": schools,
		"method":             method,
		"notes":              notes,
	})
	if err != nil {
		return err
	}
	return printSubscription(cmd.OutOrStdout(), data)
}

func runSubscriptionSuspend(cmd *cobra.Command, args []string) error {
	path, err := subscriptionPath(args[0], "/suspend")
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	reason, _ := cmd.Flags().GetString("reason")
	data, err := client.Post(cmd.Context(), path, map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	return printSubscription(cmd.OutOrStdout(), data)
}

func printSubscription(out io.Writer, data []byte) error {
	var s SubscriptionResponse
	if err := unmarshal(data, &s); err != nil {
		return err
	}
	if done, err := render(out, s); done {
		return err
	}

	fmt.Fprintf(out, "Organization:        %s\n", s.OrganizationID)
	fmt.Fprintf(out, "Subscription:        %s\n", s.ID)
	fmt.Fprintf(out, "Plan:                %s\n", s.PlanID)
	fmt.Fprintf(out, "Status:              %s\n", s.Status)
	fmt.Fprintf(out, "Additional schools:  %d\n", s.AdditionalSchools)
	fmt.Fprintf(out, "Trial ends:          %s\n", timeStr(s.TrialEndsAt))
	fmt.Fprintf(out, "Expires:             %s\n", timeStr(s.ExpiresAt))
	fmt.Fprintf(out, "Grace ends:          %s\n", timeStr(s.GracePeriodEndsAt))
	fmt.Fprintf(out, "Read-only ends:      %s\n", timeStr(s.ReadonlyEndsAt))
	if s.SuspendedReason != "" {
		fmt.Fprintf(out, "Suspended:           %s\n", s.SuspendedReason)
	}
	return nil
}
