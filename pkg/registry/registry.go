// Package registry holds the catalog of configured tool servers and the
// scope bindings that control which of them a request may see. Records are
// written by the admin API and read-only to the orchestration path; callers
// re-read them per request because activation state can change between
// requests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seclens/seclens/pkg/protocol"
	"github.com/seclens/seclens/pkg/transport"
)

// ErrNotFound is returned when a server or binding does not exist.
var ErrNotFound = errors.New("not found")

// ToolServer is one configured external tool provider.
type ToolServer struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// Kind selects the transport medium (stdio, http, sse).
	Kind transport.Kind `yaml:"kind" json:"kind"`

	// Stdio connection parameters.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// HTTP/SSE connection parameter.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	Active bool `yaml:"active" json:"active"`
}

// Validate checks the record is usable. Server names namespace tool names,
// so they must not contain the qualified-name separator.
func (s ToolServer) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("tool server requires an id")
	}
	if s.Name == "" {
		return fmt.Errorf("tool server %s requires a name", s.ID)
	}
	if strings.Contains(s.Name, protocol.ToolNameSeparator) {
		return fmt.Errorf("tool server name %q must not contain %q", s.Name, protocol.ToolNameSeparator)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("tool server %s has unknown transport kind %q", s.Name, s.Kind)
	}
	switch s.Kind {
	case transport.KindStdio:
		if s.Command == "" {
			return fmt.Errorf("stdio tool server %s requires a command", s.Name)
		}
	default:
		if s.URL == "" {
			return fmt.Errorf("%s tool server %s requires a url", s.Kind, s.Name)
		}
	}
	return nil
}

// TransportConfig maps the record onto the transport layer's config.
func (s ToolServer) TransportConfig() transport.Config {
	return transport.Config{
		Kind:    s.Kind,
		Command: s.Command,
		Args:    s.Args,
		Env:     s.Env,
		URL:     s.URL,
	}
}

// ToolBinding associates a tool server with a scope pattern. Bindings are
// the only way a scope gains tool capability: no binding, no tools.
type ToolBinding struct {
	// ScopePattern is a glob (`*`, `?`, literals) matched against the
	// scope key, anchored and case-sensitive.
	ScopePattern string `yaml:"scope_pattern" json:"scope_pattern"`

	ServerID string `yaml:"server_id" json:"server_id"`

	// Priority orders matched bindings; lower wins. Ties break on
	// ServerID so resolution stays deterministic.
	Priority int `yaml:"priority" json:"priority"`

	Enabled bool `yaml:"enabled" json:"enabled"`

	// AutoInject exposes the binding's tools automatically. Bindings
	// with AutoInject false exist for explicit invocation elsewhere and
	// are skipped during resolution.
	AutoInject bool `yaml:"auto_inject" json:"auto_inject"`
}

// Validate checks the binding is usable.
func (b ToolBinding) Validate() error {
	if b.ScopePattern == "" {
		return fmt.Errorf("tool binding requires a scope pattern")
	}
	if b.ServerID == "" {
		return fmt.Errorf("tool binding %q requires a server id", b.ScopePattern)
	}
	return nil
}

// Store is the read interface the orchestration path uses, plus the writes
// the admin surface needs. Implementations: SQLStore and MemoryStore.
type Store interface {
	// ListActiveServers returns the active servers among ids, in no
	// particular order. Unknown ids are skipped, not an error.
	ListActiveServers(ctx context.Context, ids []string) ([]ToolServer, error)

	// GetServerByName returns the server with the given unique name,
	// active or not. ErrNotFound when absent.
	GetServerByName(ctx context.Context, name string) (ToolServer, error)

	// ListBindings returns every binding configured for the backend.
	ListBindings(ctx context.Context, backendID string) ([]ToolBinding, error)

	// UpsertServer creates or replaces a server record.
	UpsertServer(ctx context.Context, server ToolServer) error

	// UpsertBinding creates or replaces a binding for the backend.
	UpsertBinding(ctx context.Context, backendID string, binding ToolBinding) error

	// DeleteServer removes a server record. ErrNotFound when absent.
	DeleteServer(ctx context.Context, id string) error
}
