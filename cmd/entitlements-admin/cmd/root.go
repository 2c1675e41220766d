package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL  string
	flagToken   string
	flagContext string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "entitlements-admin",
	Short: "Entitlements and billing administration CLI",
	Long: `entitlements-admin manages plans, subscriptions and renewal requests
through the entitlements admin API.

Use "entitlements-admin token issue" to mint an admin token and
"entitlements-admin config set-context" to save your connection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: ENTITLEMENTS_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Override admin bearer token (env: ENTITLEMENTS_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: ENTITLEMENTS_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(subscriptionCmd)
	rootCmd.AddCommand(renewalsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("ENTITLEMENTS_API_URL")
	}
	if flagToken == "" {
		flagToken = os.Getenv("ENTITLEMENTS_TOKEN")
	}

	if flagAPIURL == "" || flagToken == "" {
		u, t := resolveFromConfigFile()
		if flagAPIURL == "" {
			flagAPIURL = u
		}
		if flagToken == "" {
			flagToken = t
		}
	}
}

func resolveFromConfigFile() (string, string) {
	ctxName := flagContext
	if ctxName == "" {
		ctxName = os.Getenv("ENTITLEMENTS_CONTEXT")
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", ""
	}

	if ctxName == "" {
		ctxName = cfg.CurrentContext
	}

	ctx := cfg.GetContext(ctxName)
	if ctx == nil {
		return "", ""
	}

	token := ctx.Context.Token
	if token == "" && ctx.Context.TokenFile != "" {
		data, err := os.ReadFile(expandPath(ctx.Context.TokenFile))
		if err == nil {
			token = string(data)
		}
	}

	return ctx.Context.APIURL, token
}

func newClient() (*Client, error) {
	if flagAPIURL == "" {
		return nil, errors.New("API URL not configured: use --api-url, ENTITLEMENTS_API_URL, or 'entitlements-admin config set-context'")
	}
	if flagToken == "" {
		return nil, errors.New("token not configured: use --token, ENTITLEMENTS_TOKEN, or 'entitlements-admin config set-context'")
	}
	return NewClient(flagAPIURL, flagToken, flagVerbose), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "entitlements-admin version %s\n", version)
		fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
