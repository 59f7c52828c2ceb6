// Package openstack reads tenant quotas from the Nova quota-sets API.
package openstack

import (
	"context"
	"fmt"

	"github.com/gammadia/workloads/quota"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/quotasets"
)

type Oracle struct {
	client *gophercloud.ServiceClient
}

// Oracle implements quota.Oracle
var _ quota.Oracle = (*Oracle)(nil)

// New uses a compute (Nova) service client. The client's credentials must be allowed to read
// the quota of every tenant it is asked about.
func New(client *gophercloud.ServiceClient) *Oracle {
	return &Oracle{client: client}
}

// Quota does not honor ctx cancellation: gophercloud v1 requests are not context-aware.
func (o *Oracle) Quota(_ context.Context, tenant string) (quota.Snapshot, error) {
	detail, err := quotasets.GetDetail(o.client, tenant).Extract()
	if err != nil {
		return nil, fmt.Errorf("failed to get quota of tenant '%s': %w", tenant, err)
	}

	return snapshotFromDetail(detail), nil
}

func snapshotFromDetail(detail quotasets.QuotaDetailSet) quota.Snapshot {
	return quota.Snapshot{
		quota.RAM: {
			Reserved: detail.RAM.Reserved,
			InUse:    detail.RAM.InUse,
			Limit:    detail.RAM.Limit,
		},
		quota.Instances: {
			Reserved: detail.Instances.Reserved,
			InUse:    detail.Instances.InUse,
			Limit:    detail.Instances.Limit,
		},
	}
}
