package workload

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPriority is assigned to workloads registered without an explicit priority.
const DefaultPriority = 1

// Workload is a tenant-scoped group of instances sharing a name prefix.
// Lower priority values take precedence over higher ones.
type Workload struct {
	ID          int64     `json:"id"`
	Tenant      string    `json:"tenant"`
	Name        string    `json:"name"`
	Priority    int       `json:"priority"`
	LastCheckin time.Time `json:"last_checkin,omitempty"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidateName rejects names that cannot be used as an instance name prefix.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidName)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: must be at most 255 characters", ErrInvalidName)
	}
	return nil
}
