package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/gammadia/workloads/metrics"
	"github.com/gammadia/workloads/namegen"
	"github.com/gammadia/workloads/provisioner/local"
	"github.com/gammadia/workloads/provisioner/openstack"
	"github.com/gammadia/workloads/provisioner/sahara"
	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/reconciler"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload/sqlite"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile the open orders of the workload of this agent until interrupted",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := recordOf(cmd)
		if err != nil {
			return err
		}

		logger := newLogger().With("agent", namegen.Get().String())
		metrics.Register(prometheus.DefaultRegisterer)

		provisioner, err := newProvisioner(cmd, logger)
		if err != nil {
			return err
		}

		source, closer, err := newSource(cmd, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("Failed to close order source", "error", err)
			}
		}()

		config := reconciler.DefaultConfig()
		config.Logger = logger
		config.PollInterval = lo.Must(cmd.Flags().GetDuration("poll-interval"))
		config.DispatchTimeout = lo.Must(cmd.Flags().GetDuration("dispatch-timeout"))
		config.StrictAck = lo.Must(cmd.Flags().GetBool("strict-ack"))
		if err := reconciler.Validate(config); err != nil {
			return fmt.Errorf("invalid reconciler config: %w", err)
		}

		loop := reconciler.New(reconciler.Workload{ID: record.ID, Name: record.Name}, source, provisioner, config)
		return loop.Run(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().String("backend", "generic", "provisioning backend (generic, sahara, local)")
	watchCmd.Flags().Duration("poll-interval", reconciler.DefaultConfig().PollInterval, "how often open orders are polled")
	watchCmd.Flags().Duration("dispatch-timeout", reconciler.DefaultConfig().DispatchTimeout, "bound of every backend call, zero is unbounded")
	watchCmd.Flags().Bool("strict-ack", false, "acknowledge orders whose dispatch failed as ERROR instead of FILLED")

	// Standalone
	watchCmd.Flags().Bool("standalone", false, "read orders from a local store instead of the API")
	watchCmd.Flags().String("store-path", "workloads.db", "sqlite database shared with the server, in standalone mode")
	watchCmd.Flags().Int("quota-ram", -1, "RAM limit in MB of the project in standalone mode, negative is unlimited")
	watchCmd.Flags().Int("quota-instances", -1, "instance limit of the project in standalone mode, negative is unlimited")

	// Generic
	defaults := openstack.DefaultConfig()
	watchCmd.Flags().String("image", defaults.Image, "image of the instances (generic: part of the image name, local: docker image)")
	watchCmd.Flags().String("flavor", defaults.Flavor, "exact name of the flavor of the instances")
	watchCmd.Flags().String("security-group", defaults.SecurityGroup, "part of the name of the security group of the instances")
	watchCmd.Flags().StringSlice("network", nil, "UUID of a network attached to the instances")

	// Sahara
	watchCmd.Flags().String("node-group", sahara.DefaultConfig().NodeGroup, "node group resized by orders")
	watchCmd.Flags().Duration("settle-timeout", sahara.DefaultConfig().SettleTimeout, "bound of every wait for the cluster to become active")

	// Local
	watchCmd.Flags().Int("memory", 0, "memory limit in MB of local containers, zero is unlimited")
}

func newProvisioner(cmd *cobra.Command, logger *slog.Logger) (reconciler.Provisioner, error) {
	logger = logger.With("component", "provisioner")

	switch backend := lo.Must(cmd.Flags().GetString("backend")); backend {
	case "generic":
		config := openstack.DefaultConfig()
		config.Logger = logger
		config.Image = lo.Must(cmd.Flags().GetString("image"))
		config.Flavor = lo.Must(cmd.Flags().GetString("flavor"))
		config.SecurityGroup = lo.Must(cmd.Flags().GetString("security-group"))
		config.Networks = lo.Map(lo.Must(cmd.Flags().GetStringSlice("network")), func(uuid string, _ int) servers.Network {
			return servers.Network{UUID: uuid}
		})
		logger.Debug("Provisioner config", "backend", backend, "config", string(lo.Must(json.Marshal(config))))

		client, err := openstack.NewComputeClient()
		if err != nil {
			return nil, err
		}
		return openstack.NewProvisioner(client, config), nil

	case "sahara":
		config := sahara.DefaultConfig()
		config.Logger = logger
		config.NodeGroup = lo.Must(cmd.Flags().GetString("node-group"))
		config.SettleTimeout = lo.Must(cmd.Flags().GetDuration("settle-timeout"))
		logger.Debug("Provisioner config", "backend", backend, "config", string(lo.Must(json.Marshal(config))))

		client, err := sahara.NewDataProcessingClient()
		if err != nil {
			return nil, err
		}
		return sahara.NewProvisioner(client, config), nil

	case "local":
		config := local.DefaultConfig()
		config.Logger = logger
		if cmd.Flags().Changed("image") {
			config.Image = lo.Must(cmd.Flags().GetString("image"))
		}
		config.MemoryMB = lo.Must(cmd.Flags().GetInt("memory"))
		logger.Debug("Provisioner config", "backend", backend, "config", string(lo.Must(json.Marshal(config))))

		docker, err := local.NewDockerClient()
		if err != nil {
			return nil, err
		}
		return local.NewProvisioner(docker, config), nil

	default:
		return nil, fmt.Errorf("unknown backend '%s'", backend)
	}
}

// newSource reads orders through the API, or straight from the sqlite store in standalone mode.
func newSource(cmd *cobra.Command, logger *slog.Logger) (reconciler.OrderSource, io.Closer, error) {
	if !lo.Must(cmd.Flags().GetBool("standalone")) {
		client, err := newClient(cmd)
		if err != nil {
			return nil, nil, err
		}
		return client, io.NopCloser(nil), nil
	}

	project := lo.Must(cmd.Flags().GetString("project"))
	if project == "" {
		return nil, nil, fmt.Errorf("standalone mode requires a project")
	}

	store, err := sqlite.Open(lo.Must(cmd.Flags().GetString("store-path")))
	if err != nil {
		return nil, nil, err
	}

	config := scheduler.DefaultConfig()
	config.Logger = logger
	s := scheduler.New(store, quota.NewLedger(store, quota.Limits{
		RAM:       lo.Must(cmd.Flags().GetInt("quota-ram")),
		Instances: lo.Must(cmd.Flags().GetInt("quota-instances")),
	}), config)

	return &reconciler.SchedulerSource{
		Scheduler:  s,
		Tenant:     project,
		Checkpoint: scheduler.NewCheckpoint(),
	}, store, nil
}
