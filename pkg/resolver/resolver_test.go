package resolver

import (
	"context"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/pkg/registry"
	"github.com/seclens/seclens/pkg/transport"
)

func seedStore(t *testing.T, servers []registry.ToolServer, bindings []registry.ToolBinding) *registry.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := registry.NewMemoryStore()
	for _, s := range servers {
		require.NoError(t, store.UpsertServer(ctx, s))
	}
	for _, b := range bindings {
		require.NoError(t, store.UpsertBinding(ctx, "b1", b))
	}
	return store
}

func stdioServer(id, name string, active bool) registry.ToolServer {
	return registry.ToolServer{
		ID:      id,
		Name:    name,
		Kind:    transport.KindStdio,
		Command: "/bin/" + name,
		Active:  active,
	}
}

func binding(pattern, serverID string, priority int) registry.ToolBinding {
	return registry.ToolBinding{
		ScopePattern: pattern,
		ServerID:     serverID,
		Priority:     priority,
		Enabled:      true,
		AutoInject:   true,
	}
}

func TestResolveOrdering(t *testing.T) {
	store := seedStore(t,
		[]registry.ToolServer{
			stdioServer("srv-c", "charlie", true),
			stdioServer("srv-a", "alpha", true),
			stdioServer("srv-b", "bravo", true),
		},
		[]registry.ToolBinding{
			binding("sec-*", "srv-c", 2),
			binding("sec-*", "srv-a", 1),
			binding("sec-*", "srv-b", 1),
		},
	)
	r := New(store, nil)

	// Same order on every call: priority ascending, server id breaking ties.
	for i := 0; i < 3; i++ {
		servers, err := r.Resolve(context.Background(), "b1", "sec-logs")
		require.NoError(t, err)
		require.Len(t, servers, 3)
		assert.Equal(t, "srv-a", servers[0].ID)
		assert.Equal(t, "srv-b", servers[1].ID)
		assert.Equal(t, "srv-c", servers[2].ID)
	}
}

func TestResolveRestrictiveDefault(t *testing.T) {
	store := seedStore(t,
		[]registry.ToolServer{stdioServer("srv-a", "alpha", true)},
		[]registry.ToolBinding{binding("logs-*", "srv-a", 1)},
	)
	r := New(store, nil)

	servers, err := r.Resolve(context.Background(), "b1", "metrics-cpu")
	require.NoError(t, err)
	assert.Empty(t, servers, "unmatched scope must resolve to zero servers")

	servers, err = r.Resolve(context.Background(), "other-backend", "logs-apache")
	require.NoError(t, err)
	assert.Empty(t, servers, "unknown backend must resolve to zero servers")
}

func TestResolveFiltering(t *testing.T) {
	disabled := binding("sec-*", "srv-disabled", 1)
	disabled.Enabled = false
	manual := binding("sec-*", "srv-manual", 1)
	manual.AutoInject = false

	store := seedStore(t,
		[]registry.ToolServer{
			stdioServer("srv-ok", "scanner", true),
			stdioServer("srv-disabled", "dormant", true),
			stdioServer("srv-manual", "ondemand", true),
			stdioServer("srv-inactive", "retired", false),
		},
		[]registry.ToolBinding{
			binding("sec-*", "srv-ok", 1),
			disabled,
			manual,
			binding("sec-*", "srv-inactive", 1),
			binding("sec-*", "srv-gone", 1), // no such server
		},
	)
	r := New(store, nil)

	servers, err := r.Resolve(context.Background(), "b1", "sec-logs")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "srv-ok", servers[0].ID)
}

func TestResolveDuplicateBindings(t *testing.T) {
	store := seedStore(t,
		[]registry.ToolServer{
			stdioServer("srv-a", "alpha", true),
			stdioServer("srv-b", "bravo", true),
		},
		[]registry.ToolBinding{
			binding("sec-*", "srv-a", 5),
			binding("sec-logs", "srv-a", 1), // tighter pattern, higher precedence
			binding("sec-*", "srv-b", 3),
		},
	)
	r := New(store, nil)

	servers, err := r.Resolve(context.Background(), "b1", "sec-logs")
	require.NoError(t, err)
	require.Len(t, servers, 2, "server matched twice must appear once")
	assert.Equal(t, "srv-a", servers[0].ID, "lowest matching priority wins")
	assert.Equal(t, "srv-b", servers[1].ID)
}

func TestGlobMatching(t *testing.T) {
	tests := []struct {
		pattern string
		scope   string
		want    bool
	}{
		{"logs-*", "logs-apache", true},
		{"logs-*", "metrics-cpu", false},
		{"*-prod", "app-logs-prod", true},
		{"logs-?", "logs-a", true},
		{"logs-?", "logs-ab", false},
		{"logs-*", "LOGS-apache", false}, // case-sensitive
		{"logs-apache", "logs-apache", true},
		{"logs", "logs-apache", false}, // anchored
	}
	for _, tt := range tests {
		got, err := doublestar.Match(tt.pattern, tt.scope)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Match(%q, %q)", tt.pattern, tt.scope)
	}
}
