package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/pkg/registry"
	"github.com/seclens/seclens/pkg/transport"
)

type fakeTransport struct {
	result     map[string]any
	err        error
	lastMethod string
	lastParams map[string]any
	closed     bool
}

func (f *fakeTransport) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	f.lastMethod = method
	f.lastParams = params
	return f.result, f.err
}

func (f *fakeTransport) Kind() transport.Kind { return transport.KindStdio }
func (f *fakeTransport) Close() error         { f.closed = true; return nil }

func fakeFactory(ft *fakeTransport) TransportFactory {
	return func(cfg transport.Config) (transport.Transport, error) {
		return ft, nil
	}
}

func activeServer() registry.ToolServer {
	return registry.ToolServer{
		ID: "srv-1", Name: "scanner", Kind: transport.KindStdio,
		Command: "/bin/scanner", Active: true,
	}
}

func TestListTools(t *testing.T) {
	ft := &fakeTransport{result: map[string]any{
		"tools": []any{
			map[string]any{
				"name":        "search",
				"description": "Search indexed events",
				"inputSchema": map[string]any{"type": "object"},
			},
			map[string]any{"name": "bad__name"}, // separator in raw name, dropped
			"not-a-map",
		},
	}}
	e := New(WithTransportFactory(fakeFactory(ft)))

	defs, err := e.ListTools(context.Background(), activeServer())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "scanner__search", defs[0].Name)
	assert.Equal(t, "Search indexed events", defs[0].Description)
	assert.Equal(t, "tools/list", ft.lastMethod)
	assert.True(t, ft.closed)
}

func TestListToolsInactiveServer(t *testing.T) {
	ft := &fakeTransport{}
	e := New(WithTransportFactory(fakeFactory(ft)))

	srv := activeServer()
	srv.Active = false
	_, err := e.ListTools(context.Background(), srv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inactive")
	assert.Empty(t, ft.lastMethod, "inactive server must not be contacted")
}

func TestCallTool(t *testing.T) {
	ft := &fakeTransport{result: map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "3 hits"},
			map[string]any{"type": "text", "text": "query took 12ms"},
		},
	}}
	e := New(WithTransportFactory(fakeFactory(ft)))

	content, err := e.CallTool(context.Background(), activeServer(), "search", map[string]any{"q": "foo"})
	require.NoError(t, err)
	assert.Equal(t, "3 hits\nquery took 12ms", content)
	assert.Equal(t, "tools/call", ft.lastMethod)
	assert.Equal(t, "search", ft.lastParams["name"])
	assert.Equal(t, map[string]any{"q": "foo"}, ft.lastParams["arguments"])
}

func TestCallToolServerReportedError(t *testing.T) {
	ft := &fakeTransport{result: map[string]any{
		"isError": true,
		"content": []any{map[string]any{"type": "text", "text": "index not found"}},
	}}
	e := New(WithTransportFactory(fakeFactory(ft)))

	_, err := e.CallTool(context.Background(), activeServer(), "search", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index not found")
}

func TestCallToolOmitsEmptyArguments(t *testing.T) {
	ft := &fakeTransport{result: map[string]any{"content": "ok"}}
	e := New(WithTransportFactory(fakeFactory(ft)))

	_, err := e.CallTool(context.Background(), activeServer(), "ping", nil)
	require.NoError(t, err)
	_, present := ft.lastParams["arguments"]
	assert.False(t, present)
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{
			name:   "plain string",
			result: map[string]any{"content": "hello"},
			want:   "hello",
		},
		{
			name: "mixed blocks",
			result: map[string]any{"content": []any{
				map[string]any{"type": "text", "text": "a"},
				map[string]any{"type": "image", "mimeType": "image/png"},
				map[string]any{"type": "resource", "resource": map[string]any{"uri": "file:///r"}},
			}},
			want: "a\n[image: image/png]\n[resource: file:///r]",
		},
		{
			name:   "top level object",
			result: map[string]any{"rows": float64(3)},
			want:   `{"rows":3}`,
		},
		{
			name:   "empty",
			result: map[string]any{},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlattenContent(tt.result))
		})
	}
}
