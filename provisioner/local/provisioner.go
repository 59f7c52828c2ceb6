// Package local runs workload instances as containers on the local Docker daemon.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/gammadia/workloads/namegen"
	"github.com/gammadia/workloads/provisioner/internal"
	"github.com/gammadia/workloads/reconciler"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	Clock  clock.Clock  `json:"-"`

	// Image run by every instance
	Image string `json:"image"`
	// Command keeps the instance running
	Command []string `json:"command"`
	// MemoryMB limits the memory of every instance. Zero means no limit.
	MemoryMB int `json:"memory-mb"`
}

func DefaultConfig() Config {
	return Config{
		Logger:   slog.Default(),
		Clock:    clock.RealClock{},
		Image:    "alpine:3",
		Command:  []string{"sleep", "infinity"},
		MemoryMB: 0,
	}
}

type Provisioner struct {
	config Config
	docker DockerClient
	log    *slog.Logger
}

// Provisioner implements reconciler.Provisioner
var _ reconciler.Provisioner = (*Provisioner)(nil)

func NewProvisioner(docker DockerClient, config Config) *Provisioner {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	return &Provisioner{
		config: config,
		docker: docker,
		log:    config.Logger.With("component", "provisioner", "image", config.Image),
	}
}

func (p *Provisioner) CreateInstances(ctx context.Context, count int, w reconciler.Workload) error {
	failures := 0
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := namegen.Instance(w.Name)
		if err := p.run(ctx, name, w); err != nil {
			failures += 1
			p.log.Warn("Failed to run container", "container", name, "error", err)
			continue
		}
		p.log.Info("Started container", "container", name)
	}

	if failures > 0 {
		return fmt.Errorf("failed to run %d of %d containers for workload '%s'", failures, count, w.Name)
	}
	return nil
}

func (p *Provisioner) DeleteInstances(ctx context.Context, count int, w reconciler.Workload) error {
	containers, err := listWorkloadContainers(ctx, p.docker, w.Name)
	if err != nil {
		return err
	}
	if len(containers) < count {
		p.log.Warn("Fewer containers than requested to delete", "requested", count, "found", len(containers))
	}

	failures := 0
	for _, c := range lo.Slice(containers, 0, count) {
		name := containerName(c)
		err := internal.Retry(ctx, p.config.Clock, 3, func(ctx context.Context) error {
			return p.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		})
		if err != nil {
			failures += 1
			p.log.Warn("Failed to remove container", "container", name, "error", err)
			continue
		}
		p.log.Info("Removed container", "container", name)
	}

	if failures > 0 {
		return fmt.Errorf("failed to remove %d of %d containers of workload '%s'", failures, min(count, len(containers)), w.Name)
	}
	return nil
}

func (p *Provisioner) run(ctx context.Context, name string, w reconciler.Workload) error {
	resp, err := internal.RetryResult(ctx, p.config.Clock, 3, func(ctx context.Context) (container.CreateResponse, error) {
		resp, err := p.docker.ContainerCreate(
			ctx,
			&container.Config{
				Image: p.config.Image,
				Cmd:   p.config.Command,
				Labels: map[string]string{
					workloadLabel: w.Name,
					memoryLabel:   strconv.Itoa(p.config.MemoryMB),
				},
			},
			&container.HostConfig{
				Resources: container.Resources{
					Memory: int64(p.config.MemoryMB) * 1024 * 1024,
				},
			},
			nil,
			nil,
			name,
		)
		// Missing image
		if client.IsErrNotFound(err) {
			return resp, internal.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to create docker container: %w", err)
	}

	if err := p.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Uses context.Background() so cleanup isn't skipped if ctx is already cancelled
		if err := p.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			p.log.Warn("Failed to remove container that did not start", "container", name, "error", err)
		}
		return fmt.Errorf("failed to start docker container: %w", err)
	}
	return nil
}

func containerName(c container.Summary) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
