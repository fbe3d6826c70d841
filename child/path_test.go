package child

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type cache struct {
	items map[string]int
}

func (c *cache) Property(name string) (any, bool) {
	if name == "size" {
		return len(c.items), true
	}
	return nil, false
}

// Len is an ordinary method: path resolution never calls it.
func (c *cache) Len() int { return len(c.items) }

type shard struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

type wsState struct {
	Ping   int
	Shards []shard
}

type botApp struct {
	Name   string
	Guilds *cache
	WS     wsState `json:"ws"`
	Users  map[string]string
	ByID   map[int]string
	Owner  *shard
	Spare  *cache
	secret string
	closed bool
}

func (a *botApp) Property(name string) (any, bool) {
	if name == "uptime" {
		return 99, true
	}
	return nil, false
}

func (a *botApp) Shutdown() int {
	a.closed = true
	return 1
}

func newApp() *botApp {
	return &botApp{
		Name:   "bot",
		Guilds: &cache{items: map[string]int{"a": 1, "b": 2}},
		WS:     wsState{Ping: 42, Shards: []shard{{ID: 0, Status: "ready"}, {ID: 1, Status: "idle"}}},
		Users:  map[string]string{"u1": "alice"},
		ByID:   map[int]string{7: "seven"},
		secret: "hidden",
	}
}

func TestResolvePath(t *testing.T) {
	a := newApp()
	cases := []struct {
		path string
		want any
	}{
		{"Name", "bot"},
		{"name", "bot"},
		{"guilds.size", 2},
		{"ws.Ping", 42},
		{"WS.ping", 42},
		{"ws.Shards.1.status", "idle"},
		{"ws.Shards.0.id", 0},
		{"Users.u1", "alice"},
		{"ByID.7", "seven"},
		{"uptime", 99},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			assert.Equal(t, c.want, ResolvePath(a, c.path))
		})
	}
}

func TestResolvePathMissing(t *testing.T) {
	a := newApp()
	for _, path := range []string{
		"Nope",
		"Name.Length.Deeper",
		"ws.Shards.5",
		"ws.Shards.x",
		"Users.nobody",
		"ByID.notanint",
		"Owner.ID",
		"secret",
		"Guilds.Size",
		"Guilds.Len",
		"Spare.Len",
		"Spare.size",
		"Shutdown",
	} {
		t.Run(path, func(t *testing.T) {
			assert.Nil(t, ResolvePath(a, path))
		})
	}
}

func TestResolvePathRoot(t *testing.T) {
	assert.Equal(t, "x", ResolvePath("x", ""))
	assert.Nil(t, ResolvePath(nil, "a"))
	assert.Equal(t, 1, ResolvePath(map[string]any{"a": map[string]any{"b": 1}}, "a.b"))
}

func TestResolvePathDoesNotCallMethods(t *testing.T) {
	a := newApp()
	assert.Nil(t, ResolvePath(a, "Shutdown"))
	assert.Nil(t, ResolvePath(a, "shutdown"))
	assert.False(t, a.closed)
}

func TestResolvePathNilInsideInterface(t *testing.T) {
	var spare *cache
	root := map[string]any{"spare": spare}
	assert.Nil(t, ResolvePath(root, "spare.size"))
	assert.Nil(t, ResolvePath(root, "spare.Len"))
}
