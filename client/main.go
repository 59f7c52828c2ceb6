package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/workloads/api"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var verbose bool

var workloadCmd = &cobra.Command{
	Use:   "workload",
	Short: "Workload manages elastic capacity orders and reconciles them into instances.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	workloadCmd.AddCommand(deleteCmd)
	workloadCmd.AddCommand(listCmd)
	workloadCmd.AddCommand(orderCmd)
	workloadCmd.AddCommand(registerCmd)
	workloadCmd.AddCommand(versionCmd)
	workloadCmd.AddCommand(watchCmd)

	workloadCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	workloadCmd.PersistentFlags().String("endpoint", lo.Must(lo.Coalesce(os.Getenv("WORKLOADS_ENDPOINT"), "http://localhost:8774")), "the workloads API endpoint")
	workloadCmd.PersistentFlags().String("auth", "keystone", "how to authenticate (keystone, static)")
	workloadCmd.PersistentFlags().String("token", os.Getenv("OS_TOKEN"), "token sent with static authentication")
	workloadCmd.PersistentFlags().String("project", defaultProject(), "project sent with static authentication")
	workloadCmd.PersistentFlags().String("record", "workload.yaml", "file identifying the workload of this agent")
}

// defaultProject is empty when no project is set in the environment, e.g. with OS_PROJECT_NAME only.
func defaultProject() string {
	project, _ := lo.Coalesce(os.Getenv("OS_PROJECT_ID"), os.Getenv("OS_TENANT_ID"))
	return project
}

// newClient connects to the API with the persistent flags of cmd.
func newClient(cmd *cobra.Command) (*api.Client, error) {
	var authenticator api.Authenticator
	switch auth := lo.Must(cmd.Flags().GetString("auth")); auth {
	case "keystone":
		keystone, err := api.NewKeystone()
		if err != nil {
			return nil, err
		}
		authenticator = keystone
	case "static":
		authenticator = api.Static{
			Token:     lo.Must(cmd.Flags().GetString("token")),
			ProjectID: lo.Must(cmd.Flags().GetString("project")),
		}
	default:
		return nil, fmt.Errorf("unknown authentication '%s'", auth)
	}

	config := api.DefaultClientConfig()
	config.Logger = newLogger()
	config.Endpoint = lo.Must(cmd.Flags().GetString("endpoint"))

	client, err := api.NewClient(api.NewCredentialCache(authenticator, api.CredentialTTL), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workloadCmd.SetOut(os.Stdout)
	if err := workloadCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
