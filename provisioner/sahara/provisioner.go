// Package sahara scales a workload by resizing the Sahara cluster named after it.
package sahara

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gammadia/workloads/provisioner/internal"
	"github.com/gammadia/workloads/reconciler"
	"github.com/gophercloud/gophercloud"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	Clock  clock.Clock  `json:"-"`

	// NodeGroup is the node group resized by orders
	NodeGroup string `json:"node-group"`
	// PollInterval separates two status checks while waiting for the cluster to be active
	PollInterval time.Duration `json:"poll-interval"`
	// SettleTimeout bounds every wait for the cluster to be active. Zero means no bound.
	SettleTimeout time.Duration `json:"settle-timeout"`
	// ResizePause is waited after submitting a resize, before checking the cluster again
	ResizePause time.Duration `json:"resize-pause"`
}

func DefaultConfig() Config {
	return Config{
		Logger:        slog.Default(),
		Clock:         clock.RealClock{},
		NodeGroup:     "Data",
		PollInterval:  10 * time.Second,
		SettleTimeout: 30 * time.Minute,
		ResizePause:   10 * time.Second,
	}
}

type Provisioner struct {
	config Config
	client *gophercloud.ServiceClient
	log    *slog.Logger
}

// Provisioner implements reconciler.Provisioner
var _ reconciler.Provisioner = (*Provisioner)(nil)

func NewProvisioner(client *gophercloud.ServiceClient, config Config) *Provisioner {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	return &Provisioner{
		config: config,
		client: client,
		log:    config.Logger.With("component", "provisioner", "node-group", config.NodeGroup),
	}
}

func (p *Provisioner) CreateInstances(ctx context.Context, count int, w reconciler.Workload) error {
	return p.scale(ctx, count, w)
}

func (p *Provisioner) DeleteInstances(ctx context.Context, count int, w reconciler.Workload) error {
	return p.scale(ctx, -count, w)
}

// scale waits for the cluster to be active, resizes its node group by delta and waits for it to
// be active again. A rejected resize is logged only: the cluster ends up wherever it settles.
func (p *Provisioner) scale(ctx context.Context, delta int, w reconciler.Workload) error {
	found, err := findCluster(p.client, w.Name)
	if err != nil {
		return err
	}
	log := p.log.With("cluster", found.Name, "id", found.ID)

	cluster, err := p.waitActive(ctx, log, found.ID)
	if err != nil {
		return err
	}

	group, ok := lo.Find(cluster.NodeGroups, func(g NodeGroup) bool {
		return g.Name == p.config.NodeGroup
	})
	if !ok {
		return fmt.Errorf("failed to find node group '%s' in cluster '%s'", p.config.NodeGroup, cluster.Name)
	}

	target := NodeGroup{Name: group.Name, Count: max(group.Count+delta, 0)}
	log.Info("Resizing node group", "from", group.Count, "to", target.Count)
	if err := resizeCluster(p.client, cluster.ID, target); err != nil {
		log.Warn("Resize request failed", "error", err)
	}

	if err := internal.Pause(ctx, p.config.Clock, p.config.ResizePause); err != nil {
		return err
	}

	_, err = p.waitActive(ctx, log, cluster.ID)
	return err
}

func (p *Provisioner) waitActive(ctx context.Context, log *slog.Logger, id string) (Cluster, error) {
	var cluster Cluster

	err := internal.WaitFor(ctx, p.config.Clock, p.config.PollInterval, p.config.SettleTimeout, func(context.Context) (bool, error) {
		var err error
		if cluster, err = getCluster(p.client, id); err != nil {
			return false, err
		}
		if !cluster.Active() {
			log.Debug("Waiting for cluster to become active", "status", cluster.Status, "wait", p.config.PollInterval)
		}
		return cluster.Active(), nil
	})
	if err != nil {
		return cluster, fmt.Errorf("failed while waiting for cluster '%s' to become active: %w", id, err)
	}
	return cluster, nil
}
