package sahara

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/samber/lo"
)

const serviceType = "data-processing"

type NodeGroup struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Cluster struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     string      `json:"status"`
	NodeGroups []NodeGroup `json:"node_groups"`
}

func (c Cluster) Active() bool {
	return strings.EqualFold(c.Status, "Active")
}

// NewDataProcessingClient authenticates with the OS_* environment variables and locates the
// Sahara endpoint in the service catalog.
func NewDataProcessingClient() (*gophercloud.ServiceClient, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}
	opts.AllowReauth = true

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	url, err := provider.EndpointLocator(gophercloud.EndpointOpts{
		Type:         serviceType,
		Region:       os.Getenv("OS_REGION_NAME"),
		Availability: gophercloud.AvailabilityPublic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to locate data processing endpoint: %w", err)
	}

	return &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       gophercloud.NormalizeURL(url),
		Type:           serviceType,
	}, nil
}

func listClusters(client *gophercloud.ServiceClient) ([]Cluster, error) {
	var body struct {
		Clusters []Cluster `json:"clusters"`
	}
	if _, err := client.Get(client.ServiceURL("clusters"), &body, nil); err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	return body.Clusters, nil
}

// findCluster looks a cluster up by name, ignoring case.
func findCluster(client *gophercloud.ServiceClient, name string) (Cluster, error) {
	clusters, err := listClusters(client)
	if err != nil {
		return Cluster{}, err
	}

	cluster, ok := lo.Find(clusters, func(c Cluster) bool {
		return strings.EqualFold(c.Name, name)
	})
	if !ok {
		return Cluster{}, fmt.Errorf("failed to find cluster '%s'", name)
	}
	return cluster, nil
}

func getCluster(client *gophercloud.ServiceClient, id string) (Cluster, error) {
	var body struct {
		Cluster Cluster `json:"cluster"`
	}
	if _, err := client.Get(client.ServiceURL("clusters", id), &body, nil); err != nil {
		return Cluster{}, fmt.Errorf("failed to get cluster '%s': %w", id, err)
	}
	return body.Cluster, nil
}

func resizeCluster(client *gophercloud.ServiceClient, id string, groups ...NodeGroup) error {
	body := map[string]any{"resize_node_groups": groups}
	_, err := client.Put(client.ServiceURL("clusters", id), body, nil, &gophercloud.RequestOpts{
		OkCodes: []int{http.StatusAccepted, http.StatusOK},
	})
	if err != nil {
		return fmt.Errorf("failed to resize cluster '%s': %w", id, err)
	}
	return nil
}
