package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gammadia/workloads/provisioner/local"
	"github.com/gammadia/workloads/provisioner/openstack"
	"github.com/gammadia/workloads/quota"
	"github.com/gammadia/workloads/reconciler"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

const tenant = "playground"

// Orders a few instances of a workload from an in-memory scheduler and reconciles them with the
// backend named by $PROVISIONER. The first interrupt releases the instances, the second one exits.
func main() {
	var provisionerID = os.Getenv("PROVISIONER")
	var provisioner reconciler.Provisioner

	switch provisionerID {
	case "local":
		docker, err := local.NewDockerClient()
		exitOnError(err)
		provisioner = local.NewProvisioner(docker, local.DefaultConfig())
	case "openstack":
		client, err := openstack.NewComputeClient()
		exitOnError(err)
		config := openstack.DefaultConfig()
		config.Image = lo.Must(lo.Coalesce(os.Getenv("IMAGE"), config.Image))
		config.Flavor = lo.Must(lo.Coalesce(os.Getenv("FLAVOR"), config.Flavor))
		provisioner = openstack.NewProvisioner(client, config)
	default:
		exitOnError(fmt.Errorf("unknown provisioner '%s'", provisionerID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := scheduler.New(workload.NewMemoryStore(), quota.Static{
		quota.RAM:       {Limit: 16384},
		quota.Instances: {Limit: 4},
	}, scheduler.DefaultConfig())

	w, err := s.RegisterWorkload(ctx, tenant, "playground", 1)
	exitOnError(err)
	_, err = s.Update(ctx, tenant, w.ID, scheduler.UpdateRequest{
		Orders: []scheduler.OrderChange{{Instances: lo.ToPtr(2), MemoryMB: lo.ToPtr(2048)}},
	})
	exitOnError(err)

	config := reconciler.DefaultConfig()
	config.PollInterval = time.Second
	loop := reconciler.New(reconciler.Workload{ID: w.ID, Name: w.Name}, &reconciler.SchedulerSource{
		Scheduler: s,
		Tenant:    tenant,
	}, provisioner, config)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	go func() {
		<-sig
		slog.Info("Releasing instances, interrupt again to exit")
		_, err := s.Update(ctx, tenant, w.ID, scheduler.UpdateRequest{
			Orders: []scheduler.OrderChange{{Instances: lo.ToPtr(-2)}},
		})
		if err != nil {
			slog.Error("Failed to release instances", "error", err)
		}
		<-sig
		cancel()
	}()

	exitOnError(loop.Run(ctx))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
