package child

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type result struct {
	raw json.RawMessage
	err error
}

func fetchAsync(c *Client, path string, opts ...CallOption) <-chan result {
	ch := make(chan result, 1)
	go func() {
		raw, err := c.FetchClientValue(context.Background(), path, opts...)
		ch <- result{raw, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for result")
		return result{}
	}
}

func TestFetchClientValue(t *testing.T) {
	c, parent := newTestClient(t, nil)

	res := fetchAsync(c, "guilds.size", WithTarget(2))
	req := parent.next(t)
	assert.Equal(t, protocol.KindFetchPropRequest, req.Kind())
	assert.Equal(t, "guilds.size", *req.FetchPropRequest)
	assert.Equal(t, 2, *req.FetchPropTarget)
	require.NotEmpty(t, req.ID)

	parent.send(t, protocol.Envelope{ID: req.ID, FetchPropRequest: req.FetchPropRequest, FetchPropTarget: req.FetchPropTarget, Result: rawJSON(t, []int{10, 20, 30})})

	r := await(t, res)
	require.NoError(t, r.err)
	assert.JSONEq(t, `[10,20,30]`, string(r.raw))
	assert.Equal(t, 0, c.Pending())
}

func TestFetchClientValueNullResult(t *testing.T) {
	c, parent := newTestClient(t, nil)

	res := fetchAsync(c, "no.such.path")
	req := parent.next(t)
	parent.send(t, protocol.Envelope{ID: req.ID, FetchPropRequest: req.FetchPropRequest, Result: json.RawMessage("null")})

	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "null", string(r.raw))
}

func TestBroadcastEvalRemoteError(t *testing.T) {
	c, parent := newTestClient(t, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.BroadcastEval(context.Background(), "panic(\"boom\")")
		errCh <- err
	}()
	req := parent.next(t)
	assert.Equal(t, protocol.KindEvalRequest, req.Kind())
	assert.Nil(t, req.EvalTarget)
	parent.send(t, protocol.Envelope{ID: req.ID, EvalRequest: req.EvalRequest, Error: &protocol.PlainError{Name: "Panic", Message: "boom", Stack: "frames"}})

	var err error
	select {
	case err = <-errCh:
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}
	var remote *RemoteExecutionError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "boom", remote.Error())
	assert.Equal(t, "Panic", remote.Name)
	assert.Equal(t, "frames", remote.Stack)
}

func TestBroadcastEvalFuncSendsInvocation(t *testing.T) {
	c, parent := newTestClient(t, nil)

	go c.BroadcastEvalFunc(context.Background(), "func(c *self.Type) int { return len(c.Shards) }")
	req := parent.next(t)
	assert.Equal(t, "(func(c *self.Type) int { return len(c.Shards) })(this)", *req.EvalRequest)
}

func TestRepliesOutOfOrder(t *testing.T) {
	c, parent := newTestClient(t, nil)

	var ab, cd json.RawMessage
	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() (err error) {
		ab, err = c.FetchClientValue(ctx, "a.b")
		return err
	})
	group.Go(func() (err error) {
		cd, err = c.FetchClientValue(ctx, "c.d")
		return err
	})

	reqs := map[string]protocol.Envelope{}
	for i := 0; i < 2; i++ {
		req := parent.next(t)
		reqs[*req.FetchPropRequest] = req
	}
	// reply in the opposite order of the paths, whatever the send order was
	for _, path := range []string{"c.d", "a.b"} {
		req := reqs[path]
		parent.send(t, protocol.Envelope{ID: req.ID, FetchPropRequest: req.FetchPropRequest, Result: rawJSON(t, "value of "+path)})
	}

	require.NoError(t, group.Wait())
	assert.JSONEq(t, `"value of a.b"`, string(ab))
	assert.JSONEq(t, `"value of c.d"`, string(cd))
}

func TestIdenticalRequestsAreRoutedByID(t *testing.T) {
	c, parent := newTestClient(t, nil)

	first := fetchAsync(c, "a.b")
	req1 := parent.next(t)
	second := fetchAsync(c, "a.b")
	req2 := parent.next(t)
	require.NotEqual(t, req1.ID, req2.ID)

	parent.send(t, protocol.Envelope{ID: req2.ID, FetchPropRequest: req2.FetchPropRequest, Result: rawJSON(t, 2)})
	r := await(t, second)
	require.NoError(t, r.err)
	assert.JSONEq(t, "2", string(r.raw))

	select {
	case <-first:
		t.Fatal("first request resolved by the reply to the second")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Pending())

	parent.send(t, protocol.Envelope{ID: req1.ID, FetchPropRequest: req1.FetchPropRequest, Result: rawJSON(t, 1)})
	r = await(t, first)
	require.NoError(t, r.err)
	assert.JSONEq(t, "1", string(r.raw))
}

func TestReplyWithoutIDMatchesByPayload(t *testing.T) {
	c, parent := newTestClient(t, nil)

	first := fetchAsync(c, "a.b")
	parent.next(t)
	second := fetchAsync(c, "a.b")
	parent.next(t)
	other := fetchAsync(c, "a.b", WithTarget(1))
	parent.next(t)

	// a parent that does not echo ids: one reply satisfies every request with the same payload
	parent.send(t, protocol.Envelope{FetchPropRequest: protocol.String("a.b"), Result: rawJSON(t, 42)})

	for _, ch := range []<-chan result{first, second} {
		r := await(t, ch)
		require.NoError(t, r.err)
		assert.JSONEq(t, "42", string(r.raw))
	}
	select {
	case <-other:
		t.Fatal("request with a different target matched")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Pending())
}

func TestUnmatchedReplyIsDiagnosed(t *testing.T) {
	c, parent := newTestClient(t, nil)
	diag, stop := c.Diagnostics().Subscribe(4)
	defer stop()

	parent.send(t, protocol.Envelope{ID: "nobody", EvalRequest: protocol.String("1"), Result: rawJSON(t, 1)})
	d := waitDiagnostic(t, diag, DiagUnmatchedReply)
	assert.Contains(t, d.Message, "nobody")
}

func TestRequestTimeout(t *testing.T) {
	c, parent := newTestClient(t, nil, WithRequestTimeout(20*time.Millisecond))

	res := fetchAsync(c, "slow")
	req := parent.next(t)
	r := await(t, res)
	require.ErrorIs(t, r.err, ErrTimeout)
	assert.Equal(t, 0, c.Pending())

	// a late reply is dropped
	parent.send(t, protocol.Envelope{ID: req.ID, FetchPropRequest: req.FetchPropRequest, Result: rawJSON(t, 1)})
	assert.Equal(t, 0, c.Pending())
}

func TestRequestContextCanceled(t *testing.T) {
	c, parent := newTestClient(t, nil, WithRequestTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.FetchClientValue(ctx, "x")
		errCh <- err
	}()
	parent.next(t)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestRequestSendFailure(t *testing.T) {
	ft := newFakeTransport(&transport.TransportError{Op: "write", Err: errors.New("EPIPE")})
	c, err := New(nil, ft, testIdentity, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.FetchClientValue(context.Background(), "a")
	var tErr *transport.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, 0, c.Pending())
}

func TestTransportClosedFailsPending(t *testing.T) {
	ft := newFakeTransport(nil)
	c, err := New(nil, ft, testIdentity, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer c.Close()

	res := fetchAsync(c, "a")
	<-ft.sent
	require.NoError(t, ft.Close())

	r := await(t, res)
	assert.ErrorIs(t, r.err, transport.ErrClosed)

	_, err = c.FetchClientValue(context.Background(), "b")
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestCloseFailsPending(t *testing.T) {
	ft := newFakeTransport(nil)
	c, err := New(nil, ft, testIdentity, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	res := fetchAsync(c, "a")
	<-ft.sent
	require.NoError(t, c.Close())
	r := await(t, res)
	assert.ErrorIs(t, r.err, ErrClientClosed)
	assert.Equal(t, 0, ft.subscribers())
}

func TestRespawnAll(t *testing.T) {
	c, parent := newTestClient(t, nil)

	require.NoError(t, c.RespawnAll(context.Background(), RespawnOptions{
		ClusterDelay: time.Second,
		RespawnDelay: 200 * time.Millisecond,
		SpawnTimeout: 5 * time.Second,
	}))
	env := parent.next(t)
	assert.JSONEq(t, `{"respawnAll":{"clusterDelayMs":1000,"respawnDelayMs":200,"spawnTimeoutMs":5000}}`, string(rawJSON(t, env)))
	parent.expectNothing(t)
	assert.Equal(t, 0, c.Pending())

	require.NoError(t, c.RespawnAll(context.Background(), RespawnOptions{SpawnTimeout: NoSpawnWait}))
	env = parent.next(t)
	assert.Equal(t, &protocol.RespawnAll{ClusterDelayMs: 5000, RespawnDelayMs: 500, SpawnTimeoutMs: -1}, env.RespawnAll)

	require.NoError(t, c.RespawnAll(context.Background(), RespawnOptions{ClusterDelay: NoDelay, RespawnDelay: NoDelay}))
	env = parent.next(t)
	assert.JSONEq(t, `{"respawnAll":{"clusterDelayMs":0,"respawnDelayMs":0,"spawnTimeoutMs":30000}}`, string(rawJSON(t, env)))
}

func TestTypedHelpers(t *testing.T) {
	c, parent := newTestClient(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	type typed struct {
		shards []int
		s      string
		err    error
	}
	done := make(chan typed, 1)
	go func() {
		var out typed
		out.shards, out.err = FetchClientValueAs[[]int](ctx, c, "shards")
		if out.err == nil {
			out.s, out.err = BroadcastEvalAs[string](ctx, c, `"ok"`)
		}
		done <- out
	}()

	req := parent.next(t)
	parent.send(t, protocol.Envelope{ID: req.ID, FetchPropRequest: req.FetchPropRequest, Result: rawJSON(t, []int{1, 2})})
	req = parent.next(t)
	parent.send(t, protocol.Envelope{ID: req.ID, EvalRequest: req.EvalRequest, Result: rawJSON(t, "ok")})

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, []int{1, 2}, out.shards)
	assert.Equal(t, "ok", out.s)
}
