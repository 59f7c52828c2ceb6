package openstack

import (
	"log/slog"
	"time"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"k8s.io/utils/clock"
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	Clock  clock.Clock  `json:"-"`

	// Image is matched against image names by substring
	Image string `json:"image"`
	// Flavor must be the exact name of a flavor
	Flavor string `json:"flavor"`
	// SecurityGroup is matched against security group names by substring
	SecurityGroup string            `json:"security-group"`
	Networks      []servers.Network `json:"-"`

	CreatePause  time.Duration `json:"create-pause"`
	FailurePause time.Duration `json:"failure-pause"`
	DeletePause  time.Duration `json:"delete-pause"`
}

func DefaultConfig() Config {
	return Config{
		Logger:        slog.Default(),
		Clock:         clock.RealClock{},
		Image:         "Ubuntu 14.04.1 Server",
		Flavor:        "m1.medium",
		SecurityGroup: "default",
		CreatePause:   2 * time.Second,
		FailurePause:  20 * time.Second,
		DeletePause:   1 * time.Second,
	}
}
