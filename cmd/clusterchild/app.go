package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/guseggert/clusterclient/child"
	"github.com/guseggert/clusterclient/identity"
)

// shardApp is a stand-in for a sharded application: it reports its shards and counts messages from the parent.
type shardApp struct {
	sync.RWMutex

	Cluster  int       `json:"cluster"`
	Shards   []int     `json:"shards"`
	Started  time.Time `json:"started"`
	Messages int       `json:"messages"`
	LastKind string    `json:"lastKind"`

	events chan child.LifecycleEvent
}

func newShardApp(id *identity.ChildIdentity) *shardApp {
	return &shardApp{
		Cluster: id.ClusterIndex,
		Shards:  append([]int(nil), id.ShardIDs...),
		Started: time.Now(),
		events:  make(chan child.LifecycleEvent, 4),
	}
}

func (a *shardApp) Lifecycle() <-chan child.LifecycleEvent { return a.events }

func (a *shardApp) Uptime() string {
	return time.Since(a.Started).Round(time.Millisecond).String()
}

func (a *shardApp) ShardCount() int { return len(a.Shards) }

// Property exposes the computed values to the parent's fetchProp. It runs under the read lock.
func (a *shardApp) Property(name string) (any, bool) {
	switch name {
	case "uptime":
		return a.Uptime(), true
	case "shardCount":
		return a.ShardCount(), true
	}
	return nil, false
}

// handleMessage records an application message. Messages that are JSON objects with a "kind" field are remembered by kind.
func (a *shardApp) handleMessage(payload json.RawMessage) {
	var msg struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(payload, &msg)

	a.Lock()
	defer a.Unlock()
	a.Messages++
	if msg.Kind != "" {
		a.LastKind = msg.Kind
	}
}

func (a *shardApp) emit(ev child.LifecycleEvent) {
	a.events <- ev
}
