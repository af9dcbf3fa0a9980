package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/pkg/transport"
)

func testServer(id, name string) ToolServer {
	return ToolServer{
		ID:      id,
		Name:    name,
		Kind:    transport.KindStdio,
		Command: "/usr/local/bin/" + name,
		Active:  true,
	}
}

func TestToolServerValidate(t *testing.T) {
	tests := []struct {
		name    string
		server  ToolServer
		wantErr string
	}{
		{
			name:   "valid stdio",
			server: testServer("srv-1", "scanner"),
		},
		{
			name: "valid http",
			server: ToolServer{
				ID: "srv-2", Name: "intel", Kind: transport.KindHTTP,
				URL: "http://localhost:9000/rpc", Active: true,
			},
		},
		{
			name:    "missing id",
			server:  ToolServer{Name: "scanner", Kind: transport.KindStdio, Command: "x"},
			wantErr: "requires an id",
		},
		{
			name:    "name contains separator",
			server:  ToolServer{ID: "srv-3", Name: "bad__name", Kind: transport.KindStdio, Command: "x"},
			wantErr: "must not contain",
		},
		{
			name:    "unknown kind",
			server:  ToolServer{ID: "srv-4", Name: "scanner", Kind: "grpc"},
			wantErr: "unknown transport kind",
		},
		{
			name:    "stdio without command",
			server:  ToolServer{ID: "srv-5", Name: "scanner", Kind: transport.KindStdio},
			wantErr: "requires a command",
		},
		{
			name:    "sse without url",
			server:  ToolServer{ID: "srv-6", Name: "scanner", Kind: transport.KindSSE},
			wantErr: "requires a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.server.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// Both Store implementations must behave identically; run the same suite
// against each.
func TestStoreImplementations(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		runStoreSuite(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		store, err := NewSQLStore(db, "sqlite")
		require.NoError(t, err)
		runStoreSuite(t, store)
	})
}

func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("upsert and get by name", func(t *testing.T) {
		srv := testServer("srv-a", "scanner")
		srv.Args = []string{"--mode", "fast"}
		srv.Env = map[string]string{"SCANNER_TOKEN": "t"}
		require.NoError(t, store.UpsertServer(ctx, srv))

		got, err := store.GetServerByName(ctx, "scanner")
		require.NoError(t, err)
		assert.Equal(t, srv, got)

		_, err = store.GetServerByName(ctx, "nonexistent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		srv := testServer("srv-a", "scanner")
		srv.Active = false
		require.NoError(t, store.UpsertServer(ctx, srv))

		got, err := store.GetServerByName(ctx, "scanner")
		require.NoError(t, err)
		assert.False(t, got.Active)

		srv.Active = true
		require.NoError(t, store.UpsertServer(ctx, srv))
	})

	t.Run("list active skips inactive and unknown ids", func(t *testing.T) {
		inactive := testServer("srv-b", "dormant")
		inactive.Active = false
		require.NoError(t, store.UpsertServer(ctx, inactive))

		servers, err := store.ListActiveServers(ctx, []string{"srv-a", "srv-b", "srv-missing"})
		require.NoError(t, err)
		require.Len(t, servers, 1)
		assert.Equal(t, "srv-a", servers[0].ID)
	})

	t.Run("list active with no ids", func(t *testing.T) {
		servers, err := store.ListActiveServers(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, servers)
	})

	t.Run("bindings round trip", func(t *testing.T) {
		binding := ToolBinding{
			ScopePattern: "sec-*",
			ServerID:     "srv-a",
			Priority:     10,
			Enabled:      true,
			AutoInject:   true,
		}
		require.NoError(t, store.UpsertBinding(ctx, "backend-1", binding))

		// Replacing the same (server, pattern) pair must not duplicate.
		binding.Priority = 5
		require.NoError(t, store.UpsertBinding(ctx, "backend-1", binding))

		bindings, err := store.ListBindings(ctx, "backend-1")
		require.NoError(t, err)
		require.Len(t, bindings, 1)
		assert.Equal(t, 5, bindings[0].Priority)

		bindings, err = store.ListBindings(ctx, "backend-other")
		require.NoError(t, err)
		assert.Empty(t, bindings)
	})

	t.Run("upsert rejects invalid records", func(t *testing.T) {
		err := store.UpsertServer(ctx, ToolServer{ID: "srv-x"})
		assert.Error(t, err)

		err = store.UpsertBinding(ctx, "backend-1", ToolBinding{ScopePattern: "x"})
		assert.Error(t, err)
	})

	t.Run("delete server", func(t *testing.T) {
		require.NoError(t, store.UpsertServer(ctx, testServer("srv-del", "shortlived")))
		require.NoError(t, store.DeleteServer(ctx, "srv-del"))

		_, err := store.GetServerByName(ctx, "shortlived")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.True(t, errors.Is(store.DeleteServer(ctx, "srv-del"), ErrNotFound))
	})
}
