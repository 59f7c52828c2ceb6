package local

import (
	"context"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/gammadia/workloads/scheduler"
	"github.com/samber/lo"
)

// stateRunning is the docker state of a container whose process is alive
const stateRunning = "running"

// Inventory counts the running containers of workloads. The local daemon has no notion of
// tenants: every tenant sees the same containers.
type Inventory struct {
	docker DockerClient
}

// Inventory implements scheduler.Inventory
var _ scheduler.Inventory = (*Inventory)(nil)

func NewInventory(docker DockerClient) *Inventory {
	return &Inventory{docker: docker}
}

func (i *Inventory) Resident(ctx context.Context, _ string, names []string) (map[string]scheduler.Resident, error) {
	resident := make(map[string]scheduler.Resident, len(names))
	for _, name := range names {
		containers, err := listWorkloadContainers(ctx, i.docker, name)
		if err != nil {
			return nil, err
		}

		running := lo.Filter(containers, func(c container.Summary, _ int) bool {
			return c.State == stateRunning
		})
		resident[name] = scheduler.Resident{
			Instances: len(running),
			MemoryMB: lo.SumBy(running, func(c container.Summary) int {
				memory, _ := strconv.Atoi(c.Labels[memoryLabel])
				return memory
			}),
		}
	}
	return resident, nil
}
