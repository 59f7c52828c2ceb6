package main

import (
	"encoding/json"
	"fmt"

	"github.com/gammadia/workloads/provisioner/local"
	"github.com/gammadia/workloads/provisioner/openstack"
	"github.com/gammadia/workloads/quota"
	quotaopenstack "github.com/gammadia/workloads/quota/openstack"
	schedulerpkg "github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/server/flags"
	"github.com/gammadia/workloads/server/log"
	"github.com/gammadia/workloads/workload"
	"github.com/gammadia/workloads/workload/sqlite"
	"github.com/gophercloud/gophercloud"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// compute is shared by the openstack oracle and inventory, created on first use
var compute *gophercloud.ServiceClient

func createScheduler(store workload.Store) (*schedulerpkg.Scheduler, error) {
	oracle, err := createOracle(store)
	if err != nil {
		return nil, fmt.Errorf("unable to create quota oracle '%s': %w", viper.GetString(flags.Quota), err)
	}

	inventory, err := createInventory()
	if err != nil {
		return nil, fmt.Errorf("unable to create inventory '%s': %w", viper.GetString(flags.Inventory), err)
	}

	config := schedulerpkg.DefaultConfig()
	config.Logger = log.Base
	config.Inventory = inventory
	config.SweepMinInterval = viper.GetDuration(flags.SweepMinInterval)
	config.SweepConcurrency = viper.GetInt(flags.SweepConcurrency)
	if err := schedulerpkg.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	log.Debug("Scheduler config", "config", string(lo.Must(json.Marshal(config))))

	return schedulerpkg.New(store, oracle, config), nil
}

func openStore() (workload.Store, error) {
	switch s := viper.GetString(flags.Store); s {
	case "memory":
		log.Warn("Using the in-memory store, orders are lost on restart")
		return workload.NewMemoryStore(), nil
	case "sqlite":
		return sqlite.Open(viper.GetString(flags.StorePath))
	default:
		return nil, fmt.Errorf("unknown store '%s'", s)
	}
}

func createOracle(store workload.Store) (quota.Oracle, error) {
	limits := quota.Limits{
		RAM:       viper.GetInt(flags.QuotaRAM),
		Instances: viper.GetInt(flags.QuotaInstances),
	}

	switch q := viper.GetString(flags.Quota); q {
	case "ledger":
		return quota.NewLedger(store, limits), nil
	case "static":
		return quota.Static{
			quota.RAM:       {Limit: limits.RAM},
			quota.Instances: {Limit: limits.Instances},
		}, nil
	case "openstack":
		client, err := computeClient()
		if err != nil {
			return nil, err
		}
		return quotaopenstack.New(client), nil
	default:
		return nil, fmt.Errorf("unknown quota oracle")
	}
}

// createInventory returns nil when resident instances are not counted.
func createInventory() (schedulerpkg.Inventory, error) {
	switch i := viper.GetString(flags.Inventory); i {
	case "", "none":
		return nil, nil
	case "openstack":
		client, err := computeClient()
		if err != nil {
			return nil, err
		}
		return openstack.NewInventory(client), nil
	case "local":
		docker, err := local.NewDockerClient()
		if err != nil {
			return nil, err
		}
		return local.NewInventory(docker), nil
	default:
		return nil, fmt.Errorf("unknown inventory")
	}
}

func computeClient() (*gophercloud.ServiceClient, error) {
	if compute != nil {
		return compute, nil
	}

	client, err := openstack.NewComputeClient()
	if err != nil {
		return nil, err
	}
	compute = client
	return compute, nil
}
