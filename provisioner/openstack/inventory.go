package openstack

import (
	"context"
	"fmt"

	"github.com/gammadia/workloads/scheduler"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

// Inventory counts the Nova servers of workloads. Its client must be allowed to list the
// servers of every tenant.
type Inventory struct {
	client *gophercloud.ServiceClient
}

// Inventory implements scheduler.Inventory
var _ scheduler.Inventory = (*Inventory)(nil)

func NewInventory(client *gophercloud.ServiceClient) *Inventory {
	return &Inventory{client: client}
}

func (i *Inventory) Resident(_ context.Context, tenant string, names []string) (map[string]scheduler.Resident, error) {
	pages, err := flavors.ListDetail(i.client, flavors.ListOpts{AccessType: flavors.AllAccess}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list flavors: %w", err)
	}
	allFlavors, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract flavors: %w", err)
	}
	ram := lo.Associate(allFlavors, func(f flavors.Flavor) (string, int) {
		return f.ID, f.RAM
	})

	resident := make(map[string]scheduler.Resident, len(names))
	for _, name := range names {
		found, err := listWorkloadServers(i.client, servers.ListOpts{AllTenants: true, TenantID: tenant}, name)
		if err != nil {
			return nil, err
		}

		resident[name] = scheduler.Resident{
			Instances: len(found),
			MemoryMB: lo.SumBy(found, func(s servers.Server) int {
				id, _ := s.Flavor["id"].(string)
				return ram[id]
			}),
		}
	}
	return resident, nil
}
