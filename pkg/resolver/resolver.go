// Package resolver decides which tool servers a request may reach. The
// scope key of the request is matched against binding glob patterns; only
// servers reached through an enabled, auto-injecting binding on an active
// server survive. No match means no tools.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/seclens/seclens/pkg/registry"
)

// Resolver computes the ordered set of tool servers visible to a scope.
type Resolver struct {
	store  registry.Store
	logger *slog.Logger
}

// New creates a resolver backed by the given store.
func New(store registry.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the active tool servers bound to scopeKey, ordered by
// (binding priority ascending, server id ascending). Each server appears
// once even when several bindings match it; the lowest matching priority
// wins. An empty result is normal, not an error.
func (r *Resolver) Resolve(ctx context.Context, backendID, scopeKey string) ([]registry.ToolServer, error) {
	bindings, err := r.store.ListBindings(ctx, backendID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings for %s: %w", backendID, err)
	}

	best := make(map[string]int) // server id -> lowest matching priority
	for _, b := range bindings {
		if !b.Enabled || !b.AutoInject {
			continue
		}
		ok, err := doublestar.Match(b.ScopePattern, scopeKey)
		if err != nil {
			// A malformed pattern disables its binding, never the
			// whole resolution.
			r.logger.Warn("skipping binding with malformed scope pattern",
				"pattern", b.ScopePattern, "server_id", b.ServerID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if prio, seen := best[b.ServerID]; !seen || b.Priority < prio {
			best[b.ServerID] = b.Priority
		}
	}

	if len(best) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}

	servers, err := r.store.ListActiveServers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool servers: %w", err)
	}

	sort.Slice(servers, func(i, j int) bool {
		pi, pj := best[servers[i].ID], best[servers[j].ID]
		if pi != pj {
			return pi < pj
		}
		return servers[i].ID < servers[j].ID
	})

	r.logger.Debug("resolved tool servers",
		"backend", backendID, "scope", scopeKey, "count", len(servers))
	return servers, nil
}
