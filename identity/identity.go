// Package identity resolves the static identity of a cluster child: which cluster it is, which shards it hosts, and how it was spawned.
package identity

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables set by the parent when it spawns a child process.
const (
	EnvMode         = "CLUSTER_MANAGER_MODE"
	EnvShardList    = "SHARD_LIST"
	EnvTotalShards  = "TOTAL_SHARDS"
	EnvClusterCount = "CLUSTER_COUNT"
	EnvCluster      = "CLUSTER"
)

// Mode is how the child was spawned.
type Mode string

const (
	ModeProcess Mode = "process"
	ModeWorker  Mode = "worker"
)

// ChildIdentity is the identity of one cluster child. It is never mutated after resolution.
type ChildIdentity struct {
	ClusterIndex int   `json:"CLUSTER"`
	ShardIDs     []int `json:"SHARD_LIST"`
	TotalShards  int   `json:"TOTAL_SHARDS"`
	ClusterCount int   `json:"CLUSTER_COUNT"`
	Mode         Mode  `json:"CLUSTER_MANAGER_MODE"`
}

// WorkerData is the initialization data handed to an in-process worker by its parent.
type WorkerData struct {
	ClusterIndex int
	ShardIDs     []int
	TotalShards  int
	ClusterCount int
}

// ConfigurationError is returned when the mode variable holds something other than a known mode.
type ConfigurationError struct {
	Value string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unrecognized %s %q: no parent exists or the supplied mode is incorrect", EnvMode, e.Value)
}

// LookupFunc reads a variable from the environment, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Resolver resolves a ChildIdentity from the environment or from injected worker data.
type Resolver struct {
	Lookup     LookupFunc
	WorkerData *WorkerData
}

// FromEnv returns a Resolver reading the process environment.
func FromEnv() *Resolver {
	return &Resolver{Lookup: os.LookupEnv}
}

// Resolve returns the child's identity. It returns (nil, nil) when no mode is set, meaning the process is not running under a parent.
// Resolve does not cache; the inputs are fixed for the life of the process, so repeated calls return equal identities.
func (r *Resolver) Resolve() (*ChildIdentity, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	rawMode, _ := lookup(EnvMode)
	if rawMode == "" {
		return nil, nil
	}
	switch Mode(rawMode) {
	case ModeProcess:
		return fromEnv(lookup)
	case ModeWorker:
		if r.WorkerData == nil {
			return nil, fmt.Errorf("mode %q requires worker data", ModeWorker)
		}
		return fromWorkerData(*r.WorkerData), nil
	default:
		return nil, &ConfigurationError{Value: rawMode}
	}
}

func fromWorkerData(d WorkerData) *ChildIdentity {
	return &ChildIdentity{
		ClusterIndex: d.ClusterIndex,
		ShardIDs:     append([]int(nil), d.ShardIDs...),
		TotalShards:  d.TotalShards,
		ClusterCount: d.ClusterCount,
		Mode:         ModeWorker,
	}
}

func fromEnv(lookup LookupFunc) (*ChildIdentity, error) {
	id := &ChildIdentity{Mode: ModeProcess}

	shardList, _ := lookup(EnvShardList)
	shards, err := ParseShardList(shardList)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvShardList, err)
	}
	id.ShardIDs = shards

	ints := []struct {
		key string
		dst *int
	}{
		{EnvTotalShards, &id.TotalShards},
		{EnvClusterCount, &id.ClusterCount},
		{EnvCluster, &id.ClusterIndex},
	}
	for _, v := range ints {
		raw, _ := lookup(v.key)
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", v.key, err)
		}
		*v.dst = n
	}
	return id, nil
}

// ParseShardList parses a comma-separated list of shard IDs. An empty string is an empty list.
func ParseShardList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	shards := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("shard id %q: %w", p, err)
		}
		shards = append(shards, n)
	}
	return shards, nil
}

// Env renders the identity as the environment variables a parent would set for a child process.
func (c *ChildIdentity) Env() []string {
	shards := make([]string, len(c.ShardIDs))
	for i, s := range c.ShardIDs {
		shards[i] = strconv.Itoa(s)
	}
	return []string{
		EnvMode + "=" + string(c.Mode),
		EnvShardList + "=" + strings.Join(shards, ","),
		EnvTotalShards + "=" + strconv.Itoa(c.TotalShards),
		EnvClusterCount + "=" + strconv.Itoa(c.ClusterCount),
		EnvCluster + "=" + strconv.Itoa(c.ClusterIndex),
	}
}
