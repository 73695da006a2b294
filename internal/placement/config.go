package placement

import "time"

// Policy names understood by the engine.
const (
	PolicyRoundRobin       = "round_robin"
	PolicyLeastConnections = "least_connection"
	PolicyWeighted         = "weighted"
)

// Config holds the allocation engine configuration.
type Config struct {
	// DefaultPolicy is used when a request does not name a policy.
	DefaultPolicy string `mapstructure:"default_policy"`

	// SlowAllocationThreshold logs allocations that take longer than this.
	SlowAllocationThreshold time.Duration `mapstructure:"slow_allocation_threshold"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPolicy:           PolicyWeighted,
		SlowAllocationThreshold: 500 * time.Millisecond,
	}
}
