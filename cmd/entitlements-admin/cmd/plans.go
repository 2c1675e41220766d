package cmd

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:     "plans",
	Aliases: []string{"plan"},
	Short:   "Inspect the plan catalog",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	RunE:  runPlansList,
}

var plansGetCmd = &cobra.Command{
	Use:   "get ID|SLUG",
	Short: "Show one plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansGet,
}

func init() {
	plansListCmd.Flags().Bool("active-only", false, "Only list active plans")

	plansCmd.AddCommand(plansListCmd, plansGetCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	params := url.Values{}
	if v, _ := cmd.Flags().GetBool("active-only"); v {
		params.Set("active_only", "true")
	}
	path := "/api/v1/admin/plans"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var resp struct {
		Data []PlanResponse `json:"data"`
	}
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := render(out, resp.Data); done {
		return err
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No plans found.")
		return nil
	}

	t := newTable(out, "ID", "SLUG", "NAME", "PRICES", "MAX-SCHOOLS", "ACTIVE", "DEFAULT")
	for _, p := range resp.Data {
		t.AddRow(p.ID, p.Slug, p.Name, formatPrices(p.Prices), limitStr(p.MaxSchools), boolToStr(p.IsActive), boolToStr(p.IsDefault))
	}
	return t.Flush()
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	// Slugs resolve through the public catalog, which only serves active plans.
	path := "/api/v1/plans/" + url.PathEscape(args[0])
	if _, err := uuid.Parse(args[0]); err == nil {
		path = "/api/v1/admin/plans/" + args[0]
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var p PlanResponse
	if err := unmarshal(data, &p); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := render(out, p); done {
		return err
	}

	fmt.Fprintf(out, "Name:         %s (%s)\n", p.Name, p.Slug)
	fmt.Fprintf(out, "ID:           %s\n", p.ID)
	fmt.Fprintf(out, "Active:       %s\n", boolToStr(p.IsActive))
	fmt.Fprintf(out, "Default:      %s\n", boolToStr(p.IsDefault))
	fmt.Fprintf(out, "Max schools:  %s\n", limitStr(p.MaxSchools))
	fmt.Fprintf(out, "Prices:       %s\n", formatPrices(p.Prices))

	if len(p.Features) > 0 {
		fmt.Fprintln(out, "\nFeatures:")
		t := newTable(out, "KEY", "ENABLED")
		for _, k := range sortedKeys(p.Features) {
			t.AddRow(k, boolToStr(p.Features[k]))
		}
		if err := t.Flush(); err != nil {
			return err
		}
	}
	if len(p.Limits) > 0 {
		fmt.Fprintln(out, "\nLimits:")
		t := newTable(out, "RESOURCE", "LIMIT")
		for _, k := range sortedKeys(p.Limits) {
			t.AddRow(k, limitStr(p.Limits[k]))
		}
		return t.Flush()
	}
	return nil
}

func formatPrices(prices map[string]PlanPrice) string {
	if len(prices) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(prices))
	for _, currency := range sortedKeys(prices) {
		parts = append(parts, prices[currency].Yearly+" "+currency)
	}
	return strings.Join(parts, ", ")
}

// limitStr renders -1 as unlimited.
func limitStr(n int64) string {
	if n < 0 {
		return "unlimited"
	}
	return strconv.FormatInt(n, 10)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
