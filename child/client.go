package child

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/clusterclient/identity"
	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// Client is the child side of a cluster: it exposes the application to the parent and lets the application call the parent.
type Client struct {
	log *zap.SugaredLogger

	instanceID string
	identity   *identity.ChildIdentity
	app        any
	t          transport.Transport

	requestTimeout time.Duration
	evalTimeout    time.Duration
	evaluator      Evaluator
	diag           *Diagnostics

	corr       *correlator
	disp       *dispatcher
	lifecycle  *lifecycleForwarder
	messageSub transport.Subscription

	msgMut      sync.Mutex
	msgHandlers []func(json.RawMessage)

	ctx       context.Context
	cancel    func()
	closeOnce sync.Once
}

// New attaches a Client for app to the transport t. id may be nil when the process runs outside a cluster.
// If app implements LifecycleNotifier, its events are forwarded until the client is closed.
func New(app any, t transport.Transport, id *identity.ChildIdentity, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, errors.New("transport is required")
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Client{
		log:            logger.Named("cluster_client").Sugar(),
		instanceID:     uuid.NewString(),
		identity:       id,
		app:            app,
		t:              t,
		requestTimeout: defaultRequestTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.diag == nil {
		c.diag = NewDiagnostics()
	}
	if c.evaluator == nil {
		if e, ok := app.(Evaluator); ok {
			c.evaluator = e
		} else {
			c.evaluator = NewYaegiEvaluator(app)
		}
	}
	c.log = c.log.With("Instance", c.instanceID)
	if id != nil {
		c.log = c.log.With("Cluster", id.ClusterIndex)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.corr = newCorrelator(c.log.Named("correlator"), t, c.diag, c.requestTimeout)
	c.disp = newDispatcher(c.ctx, c.log.Named("dispatcher"), t, c.diag, app, c.evaluator, c.evalTimeout)
	c.lifecycle = &lifecycleForwarder{log: c.log.Named("lifecycle"), t: t, diag: c.diag}
	c.messageSub = t.Subscribe(c.handleMessage)

	if n, ok := app.(LifecycleNotifier); ok {
		go c.lifecycle.run(c.ctx, n.Lifecycle())
	}
	return c, nil
}

// ID is the index of this cluster.
func (c *Client) ID() int {
	if c.identity == nil {
		return 0
	}
	return c.identity.ClusterIndex
}

// IDs are the shards hosted by this cluster.
func (c *Client) IDs() []int {
	if c.identity == nil {
		return nil
	}
	return append([]int(nil), c.identity.ShardIDs...)
}

// Count is the total number of clusters.
func (c *Client) Count() int {
	if c.identity == nil {
		return 0
	}
	return c.identity.ClusterCount
}

// Info returns a copy of the full identity, or nil outside a cluster.
func (c *Client) Info() *identity.ChildIdentity {
	if c.identity == nil {
		return nil
	}
	info := *c.identity
	info.ShardIDs = c.IDs()
	return &info
}

func (c *Client) Mode() identity.Mode {
	if c.identity == nil {
		return ""
	}
	return c.identity.Mode
}

// InstanceID uniquely identifies this client, for correlating logs across restarts.
func (c *Client) InstanceID() string { return c.instanceID }

func (c *Client) Diagnostics() *Diagnostics { return c.diag }

// Pending is the number of requests waiting for a reply.
func (c *Client) Pending() int { return c.corr.outstanding() }

// Send sends an application-defined payload to the parent.
func (c *Client) Send(ctx context.Context, payload any) error {
	env, err := protocol.NewPayload(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return c.t.Send(ctx, env)
}

// OnMessage registers a handler for application messages from the parent, the ones that are neither replies nor operations.
// Handlers run on the transport's read goroutine.
func (c *Client) OnMessage(h func(payload json.RawMessage)) {
	c.msgMut.Lock()
	defer c.msgMut.Unlock()
	c.msgHandlers = append(c.msgHandlers, h)
}

func (c *Client) handleMessage(env protocol.Envelope) {
	if env.Kind() != protocol.KindUnknown {
		return
	}
	c.msgMut.Lock()
	handlers := append([]func(json.RawMessage){}, c.msgHandlers...)
	c.msgMut.Unlock()
	for _, h := range handlers {
		h(env.Payload)
	}
}

// Notify sends a lifecycle notice to the parent. A failure is also published as a diagnostic.
func (c *Client) Notify(ctx context.Context, ev LifecycleEvent) error {
	return c.lifecycle.forward(ctx, ev)
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FetchClientValue fetches the value at a dotted path of the application in every cluster, or in the one chosen with WithTarget.
// The result is the raw JSON the parent replied with; a path missing on the remote side yields JSON null.
func (c *Client) FetchClientValue(ctx context.Context, path string, opts ...CallOption) (json.RawMessage, error) {
	o := applyCallOptions(opts)
	env := protocol.Envelope{FetchPropRequest: &path, FetchPropTarget: o.target}
	return c.corr.request(ctx, env, protocol.KindFetchPropRequest, path, o.target)
}

// BroadcastEval evaluates script in the context of the application of every cluster, or of the one chosen with WithTarget.
// A failed evaluation is returned as a *RemoteExecutionError.
func (c *Client) BroadcastEval(ctx context.Context, script string, opts ...CallOption) (json.RawMessage, error) {
	o := applyCallOptions(opts)
	env := protocol.Envelope{EvalRequest: &script, EvalTarget: o.target}
	return c.corr.request(ctx, env, protocol.KindEvalRequest, script, o.target)
}

// BroadcastEvalFunc is BroadcastEval for the source of a function literal, which is called with the remote application.
func (c *Client) BroadcastEvalFunc(ctx context.Context, funcSource string, opts ...CallOption) (json.RawMessage, error) {
	return c.BroadcastEval(ctx, funcInvocation(funcSource), opts...)
}

// RespawnAll asks the parent to respawn every cluster. It returns once the request is sent, not once the respawn is done.
func (c *Client) RespawnAll(ctx context.Context, opts RespawnOptions) error {
	if opts.ClusterDelay == 0 {
		opts.ClusterDelay = DefaultClusterDelay
	}
	if opts.RespawnDelay == 0 {
		opts.RespawnDelay = DefaultRespawnDelay
	}
	if opts.SpawnTimeout == 0 {
		opts.SpawnTimeout = DefaultSpawnTimeout
	}
	opts.ClusterDelay = max(opts.ClusterDelay, 0)
	opts.RespawnDelay = max(opts.RespawnDelay, 0)
	spawnTimeout := opts.SpawnTimeout.Milliseconds()
	if opts.SpawnTimeout < 0 {
		spawnTimeout = -1
	}
	c.log.Infow("requesting respawn of all clusters", "ClusterDelay", opts.ClusterDelay, "RespawnDelay", opts.RespawnDelay, "SpawnTimeout", opts.SpawnTimeout)
	return c.t.Send(ctx, protocol.Envelope{RespawnAll: &protocol.RespawnAll{
		ClusterDelayMs: opts.ClusterDelay.Milliseconds(),
		RespawnDelayMs: opts.RespawnDelay.Milliseconds(),
		SpawnTimeoutMs: spawnTimeout,
	}})
}

// Close detaches the client from the transport. Outstanding requests fail with ErrClientClosed.
// The transport itself is left open.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.t.Unsubscribe(c.messageSub)
		c.disp.close()
		c.corr.close()
	})
	return nil
}

// FetchClientValueAs is FetchClientValue decoding the result into T.
func FetchClientValueAs[T any](ctx context.Context, c *Client, path string, opts ...CallOption) (T, error) {
	var v T
	raw, err := c.FetchClientValue(ctx, path, opts...)
	if err != nil {
		return v, err
	}
	return v, decodeResult(raw, &v)
}

// BroadcastEvalAs is BroadcastEval decoding the result into T.
func BroadcastEvalAs[T any](ctx context.Context, c *Client, script string, opts ...CallOption) (T, error) {
	var v T
	raw, err := c.BroadcastEval(ctx, script, opts...)
	if err != nil {
		return v, err
	}
	return v, decodeResult(raw, &v)
}

func decodeResult(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}
