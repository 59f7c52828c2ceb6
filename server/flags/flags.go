package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"
	Listen    = "listen"

	DefaultTenant = "default-tenant"

	Store     = "store"
	StorePath = "store-path"

	Quota          = "quota"
	QuotaRAM       = "quota-ram"
	QuotaInstances = "quota-instances"

	Inventory = "inventory"

	SweepInterval    = "sweep-interval"
	SweepMinInterval = "sweep-min-interval"
	SweepConcurrency = "sweep-concurrency"

	ShutdownTimeout = "shutdown-timeout"
)

// Init parses the command line and binds it into viper. Every flag can also be set through a
// WORKLOADS_* environment variable.
func Init(name string, args []string) error {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)

	// Server
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Listen, ":8774", "listening address")
	flags.String(DefaultTenant, "", "tenant of requests without a project header (empty rejects them)")
	flags.Duration(ShutdownTimeout, 10*time.Second, "how long in-flight requests may take to complete on shutdown")

	// Scheduling
	flags.String(Store, "memory", "order store (memory, sqlite)")
	flags.String(StorePath, "workloads.db", "path of the sqlite database")
	flags.String(Quota, "ledger", "quota oracle (openstack, ledger, static)")
	flags.Int(QuotaRAM, -1, "RAM limit in MB of every tenant for the ledger and static oracles, negative is unlimited")
	flags.Int(QuotaInstances, -1, "instance limit of every tenant for the ledger and static oracles, negative is unlimited")
	flags.String(Inventory, "none", "where resident instances are counted (none, openstack, local)")
	flags.Duration(SweepInterval, 30*time.Second, "how often every tenant's pending orders are swept")
	flags.Duration(SweepMinInterval, 0, "minimum time between two sweeps of a tenant triggered by reads, zero sweeps on every read")
	flags.Int(SweepConcurrency, 4, "number of tenants swept concurrently")

	// Init
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	viper.SetEnvPrefix("workloads")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
	return nil
}
