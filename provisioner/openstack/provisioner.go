// Package openstack provisions workload instances as Nova servers.
package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gammadia/workloads/namegen"
	"github.com/gammadia/workloads/provisioner/internal"
	"github.com/gammadia/workloads/reconciler"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/secgroups"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
)

type Provisioner struct {
	name   namegen.ID
	config Config
	client *gophercloud.ServiceClient
	log    *slog.Logger
}

// Provisioner implements reconciler.Provisioner
var _ reconciler.Provisioner = (*Provisioner)(nil)

// NewComputeClient authenticates with the OS_* environment variables. The token is renewed
// by gophercloud whenever it expires.
func NewComputeClient() (*gophercloud.ServiceClient, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}
	opts.AllowReauth = true

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: os.Getenv("OS_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}
	return client, nil
}

func NewProvisioner(client *gophercloud.ServiceClient, config Config) *Provisioner {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	name := namegen.Get()
	return &Provisioner{
		name:   name,
		config: config,
		client: client,
		log:    config.Logger.With("component", "provisioner", "provisioner", name),
	}
}

// CreateInstances creates count servers named after the workload. A failed creation is logged
// and followed by a longer pause; the remaining servers are still attempted.
func (p *Provisioner) CreateInstances(ctx context.Context, count int, w reconciler.Workload) error {
	target, err := p.resolve()
	if err != nil {
		return err
	}

	failures := 0
	for i := 0; i < count; i++ {
		name := namegen.Instance(w.Name)

		server, err := servers.Create(p.client, servers.CreateOpts{
			Name:           name,
			ImageRef:       target.image,
			FlavorRef:      target.flavor,
			SecurityGroups: []string{target.securityGroup},
			Networks:       p.config.Networks,
			Metadata: map[string]string{
				"workload":                w.Name,
				"workload-provisioner":    p.name.String(),
				"workload-provisioned-at": p.config.Clock.Now().Format(time.RFC3339),
			},
		}).Extract()
		if err != nil {
			failures += 1
			p.log.Warn("Failed to create server", "server", name, "error", err, "pause", p.config.FailurePause)
			if err := internal.Pause(ctx, p.config.Clock, p.config.FailurePause); err != nil {
				return err
			}
			continue
		}

		p.log.Info("Created server", "server", name, "id", server.ID)
		if err := internal.Pause(ctx, p.config.Clock, p.config.CreatePause); err != nil {
			return err
		}
	}

	if failures > 0 {
		return fmt.Errorf("failed to create %d of %d servers for workload '%s'", failures, count, w.Name)
	}
	return nil
}

// DeleteInstances deletes up to count servers of the workload.
func (p *Provisioner) DeleteInstances(ctx context.Context, count int, w reconciler.Workload) error {
	candidates, err := listWorkloadServers(p.client, servers.ListOpts{}, w.Name)
	if err != nil {
		return err
	}
	if len(candidates) < count {
		p.log.Warn("Fewer servers than requested to delete", "requested", count, "found", len(candidates))
	}

	failures := 0
	for i, server := range lo.Slice(candidates, 0, count) {
		if i > 0 {
			if err := internal.Pause(ctx, p.config.Clock, p.config.DeletePause); err != nil {
				return err
			}
		}

		if err := servers.Delete(p.client, server.ID).ExtractErr(); err != nil {
			failures += 1
			p.log.Warn("Failed to delete server", "server", server.Name, "id", server.ID, "error", err)
			continue
		}
		p.log.Info("Deleted server", "server", server.Name, "id", server.ID)
	}

	if failures > 0 {
		return fmt.Errorf("failed to delete %d of %d servers of workload '%s'", failures, min(count, len(candidates)), w.Name)
	}
	return nil
}

type target struct {
	image         string
	flavor        string
	securityGroup string
}

func (p *Provisioner) resolve() (target, error) {
	imagePages, err := images.ListDetail(p.client, images.ListOpts{}).AllPages()
	if err != nil {
		return target{}, fmt.Errorf("failed to list images: %w", err)
	}
	allImages, err := images.ExtractImages(imagePages)
	if err != nil {
		return target{}, fmt.Errorf("failed to extract images: %w", err)
	}
	image, ok := lo.Find(allImages, func(i images.Image) bool {
		return strings.Contains(i.Name, p.config.Image)
	})
	if !ok {
		return target{}, fmt.Errorf("failed to find an image matching '%s'", p.config.Image)
	}

	flavorPages, err := flavors.ListDetail(p.client, flavors.ListOpts{}).AllPages()
	if err != nil {
		return target{}, fmt.Errorf("failed to list flavors: %w", err)
	}
	allFlavors, err := flavors.ExtractFlavors(flavorPages)
	if err != nil {
		return target{}, fmt.Errorf("failed to extract flavors: %w", err)
	}
	flavor, ok := lo.Find(allFlavors, func(f flavors.Flavor) bool {
		return f.Name == p.config.Flavor
	})
	if !ok {
		return target{}, fmt.Errorf("failed to find flavor '%s'", p.config.Flavor)
	}

	groupPages, err := secgroups.List(p.client).AllPages()
	if err != nil {
		return target{}, fmt.Errorf("failed to list security groups: %w", err)
	}
	allGroups, err := secgroups.ExtractSecurityGroups(groupPages)
	if err != nil {
		return target{}, fmt.Errorf("failed to extract security groups: %w", err)
	}
	group, ok := lo.Find(allGroups, func(g secgroups.SecurityGroup) bool {
		return strings.Contains(g.Name, p.config.SecurityGroup)
	})
	if !ok {
		return target{}, fmt.Errorf("failed to find a security group matching '%s'", p.config.SecurityGroup)
	}

	return target{image: image.ID, flavor: flavor.ID, securityGroup: group.Name}, nil
}

// listWorkloadServers lists the live servers named "<workload>-...". Nova filters names with a
// regular expression, which is narrowed to the exact prefix here.
func listWorkloadServers(client *gophercloud.ServiceClient, opts servers.ListOpts, workload string) ([]servers.Server, error) {
	prefix := workload + "-"
	opts.Name = "^" + regexp.QuoteMeta(prefix)

	pages, err := servers.List(client, opts).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers of workload '%s': %w", workload, err)
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract servers of workload '%s': %w", workload, err)
	}

	return lo.Filter(all, func(s servers.Server, _ int) bool {
		return strings.HasPrefix(s.Name, prefix) && s.Status != "DELETED" && s.Status != "SOFT_DELETED"
	}), nil
}
