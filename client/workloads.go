package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/gammadia/workloads/client/ui"
	"github.com/gammadia/workloads/scheduler"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register NAME",
	Short: "Register a workload and remember it as the workload of this agent",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		spinner := ui.NewSpinner(fmt.Sprintf("Registering workload '%s'", args[0]))
		w, err := client.RegisterWorkload(cmd.Context(), args[0], lo.Must(cmd.Flags().GetInt("priority")))
		if err != nil {
			spinner.Fail()
			return err
		}

		if err := writeRecord(lo.Must(cmd.Flags().GetString("record")), Record{Name: w.Name, ID: w.ID}); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success(fmt.Sprintf("Registered workload '%s' with id %d and priority %d", w.Name, w.ID, w.Priority))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the workloads of the project",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		workloads, err := client.ListWorkloads(cmd.Context())
		if err != nil {
			return err
		}

		cmd.Printf("%6s  %-24s  %8s  %9s  %10s\n", "ID", "NAME", "PRIORITY", "INSTANCES", "MEMORY")
		for _, w := range workloads {
			cmd.Printf("%6d  %s  %8d  %9d  %10s\n", w.ID, color.HiCyanString("%-24s", w.Name), w.Priority, w.Instances, fmt.Sprintf("%d MB", w.MemoryMB))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [ID]",
	Short: "Delete a workload, the workload of this agent by default",
	Args:  cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := targetID(cmd, args)
		if err != nil {
			return err
		}
		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		if err := client.DeleteWorkload(cmd.Context(), id); err != nil {
			return err
		}
		cmd.Printf("Deleted workload %d\n", id)
		return nil
	},
}

var orderCmd = &cobra.Command{
	Use:   "order INSTANCES",
	Short: "Order instances for the workload of this agent, a negative count releases instances",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		instances, err := strconv.Atoi(args[0])
		if err != nil || instances == 0 {
			return fmt.Errorf("invalid instance count '%s'", args[0])
		}
		record, err := recordOf(cmd)
		if err != nil {
			return err
		}
		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		spinner := ui.NewSpinner(fmt.Sprintf("Ordering %+d instances for workload '%s'", instances, record.Name))
		order, err := client.Order(cmd.Context(), record.ID, instances, lo.Must(cmd.Flags().GetInt("memory")))
		if errors.Is(err, scheduler.ErrOutstandingGrowth) {
			spinner.Warn("Workload already has a pending or open order")
			return nil
		}
		if err != nil {
			spinner.Fail()
			return err
		}

		spinner.Success(fmt.Sprintf("Order %d is %s", order.ID, order.Status))
		return nil
	},
}

func init() {
	registerCmd.Flags().Int("priority", 0, "priority of the workload, lower values take precedence (default 1)")
	orderCmd.Flags().Int("memory", 0, "memory in MB of every instance (default 1024)")
}

// targetID is the workload given as argument, or the workload of the agent.
func targetID(cmd *cobra.Command, args []string) (int64, error) {
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid workload id '%s'", args[0])
		}
		return id, nil
	}

	record, err := recordOf(cmd)
	if err != nil {
		return 0, err
	}
	return record.ID, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lo.Ternary(verbose, slog.LevelDebug, slog.LevelInfo),
	}))
}
