package registry

import (
	"context"
	"sync"
)

// MemoryStore is a map-backed Store. It backs tests and the config-file
// deployment mode where servers and bindings come from YAML instead of a
// database.
type MemoryStore struct {
	mu       sync.RWMutex
	servers  map[string]ToolServer   // by id
	bindings map[string][]ToolBinding // by backend id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers:  make(map[string]ToolServer),
		bindings: make(map[string][]ToolBinding),
	}
}

func (s *MemoryStore) ListActiveServers(ctx context.Context, ids []string) ([]ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ToolServer
	for _, id := range ids {
		if server, ok := s.servers[id]; ok && server.Active {
			out = append(out, server)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetServerByName(ctx context.Context, name string) (ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, server := range s.servers {
		if server.Name == name {
			return server, nil
		}
	}
	return ToolServer{}, ErrNotFound
}

func (s *MemoryStore) ListBindings(ctx context.Context, backendID string) ([]ToolBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bindings := s.bindings[backendID]
	out := make([]ToolBinding, len(bindings))
	copy(out, bindings)
	return out, nil
}

func (s *MemoryStore) UpsertServer(ctx context.Context, server ToolServer) error {
	if err := server.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[server.ID] = server
	return nil
}

func (s *MemoryStore) UpsertBinding(ctx context.Context, backendID string, binding ToolBinding) error {
	if err := binding.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := s.bindings[backendID]
	for i, b := range bindings {
		if b.ServerID == binding.ServerID && b.ScopePattern == binding.ScopePattern {
			bindings[i] = binding
			return nil
		}
	}
	s.bindings[backendID] = append(bindings, binding)
	return nil
}

func (s *MemoryStore) DeleteServer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[id]; !ok {
		return ErrNotFound
	}
	delete(s.servers, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
