package child

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l.Named("cluster_client").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(c *Client) {
		c.log = c.log.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithRequestTimeout bounds how long a request waits for its reply. Zero waits forever.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithEvalTimeout bounds evaluations requested by the parent. Zero means no bound.
func WithEvalTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.evalTimeout = d
	}
}

// WithEvaluator replaces the evaluator used for parent-issued evaluations.
func WithEvaluator(e Evaluator) Option {
	return func(c *Client) {
		c.evaluator = e
	}
}

// WithDiagnostics shares a diagnostics channel instead of creating one per client.
func WithDiagnostics(d *Diagnostics) Option {
	return func(c *Client) {
		c.diag = d
	}
}

type callOptions struct {
	target *int
}

// CallOption modifies a single request.
type CallOption func(o *callOptions)

// WithTarget addresses a request to one cluster instead of all of them.
func WithTarget(cluster int) CallOption {
	return func(o *callOptions) {
		o.target = &cluster
	}
}

// Defaults for RespawnAll.
const (
	DefaultClusterDelay = 5 * time.Second
	DefaultRespawnDelay = 500 * time.Millisecond
	DefaultSpawnTimeout = 30 * time.Second

	// NoDelay asks for a ClusterDelay or RespawnDelay of zero, which would otherwise take the default.
	NoDelay time.Duration = -1

	// NoSpawnWait tells the parent not to wait for a respawned cluster to become ready.
	NoSpawnWait time.Duration = -1
)

// RespawnOptions are the parameters of a respawn request. Zero values take the defaults; use NoDelay and NoSpawnWait
// to ask for no wait at all.
type RespawnOptions struct {
	// ClusterDelay is how long the parent waits between clusters.
	ClusterDelay time.Duration
	// RespawnDelay is how long the parent waits between killing a cluster and restarting it.
	RespawnDelay time.Duration
	// SpawnTimeout is how long the parent waits for a cluster to become ready before moving on.
	SpawnTimeout time.Duration
}
