package workload_test

import (
	"testing"

	"github.com/gammadia/workloads/workload"
	"github.com/gammadia/workloads/workload/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) workload.Store {
		return workload.NewMemoryStore()
	})
}
