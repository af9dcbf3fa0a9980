package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/seclens/seclens/pkg/transport"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store over database/sql. Supports PostgreSQL, MySQL
// and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string // "postgres", "mysql" or "sqlite"
}

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS tool_servers (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    kind VARCHAR(16) NOT NULL,
    command TEXT,
    args_json TEXT,
    env_json TEXT,
    url TEXT,
    active BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_bindings (
    backend_id VARCHAR(255) NOT NULL,
    scope_pattern VARCHAR(255) NOT NULL,
    server_id VARCHAR(255) NOT NULL,
    priority INTEGER NOT NULL,
    enabled BOOLEAN NOT NULL,
    auto_inject BOOLEAN NOT NULL,
    PRIMARY KEY (backend_id, scope_pattern, server_id)
);

CREATE INDEX IF NOT EXISTS idx_tool_bindings_backend ON tool_bindings(backend_id);
`

// NewSQLStore wraps an open connection. The schema is created when absent.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createSchema() error {
	schema := createSchemaSQL
	if s.dialect == "mysql" {
		// MySQL has no CREATE INDEX IF NOT EXISTS; the index is cheap
		// to skip.
		if idx := strings.Index(schema, "CREATE INDEX"); idx >= 0 {
			schema = schema[:idx]
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) ListActiveServers(ctx context.Context, ids []string) ([]ToolServer, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := s.rebind(fmt.Sprintf(
		`SELECT id, name, kind, command, args_json, env_json, url, active
		 FROM tool_servers WHERE active = true AND id IN (%s)`, placeholders))

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []ToolServer
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

func (s *SQLStore) GetServerByName(ctx context.Context, name string) (ToolServer, error) {
	query := s.rebind(
		`SELECT id, name, kind, command, args_json, env_json, url, active
		 FROM tool_servers WHERE name = ?`)

	row := s.db.QueryRowContext(ctx, query, name)
	server, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ToolServer{}, ErrNotFound
	}
	if err != nil {
		return ToolServer{}, fmt.Errorf("failed to get server %q: %w", name, err)
	}
	return server, nil
}

func (s *SQLStore) ListBindings(ctx context.Context, backendID string) ([]ToolBinding, error) {
	query := s.rebind(
		`SELECT scope_pattern, server_id, priority, enabled, auto_inject
		 FROM tool_bindings WHERE backend_id = ?`)

	rows, err := s.db.QueryContext(ctx, query, backendID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []ToolBinding
	for rows.Next() {
		var b ToolBinding
		if err := rows.Scan(&b.ScopePattern, &b.ServerID, &b.Priority, &b.Enabled, &b.AutoInject); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (s *SQLStore) UpsertServer(ctx context.Context, server ToolServer) error {
	if err := server.Validate(); err != nil {
		return err
	}

	argsJSON, err := json.Marshal(server.Args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	envJSON, err := json.Marshal(server.Env)
	if err != nil {
		return fmt.Errorf("failed to encode env: %w", err)
	}

	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO tool_servers (id, name, kind, command, args_json, env_json, url, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE name=VALUES(name), kind=VALUES(kind), command=VALUES(command),
		 args_json=VALUES(args_json), env_json=VALUES(env_json), url=VALUES(url), active=VALUES(active)`
	default:
		query = s.rebind(`INSERT INTO tool_servers (id, name, kind, command, args_json, env_json, url, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name=excluded.name, kind=excluded.kind, command=excluded.command,
		 args_json=excluded.args_json, env_json=excluded.env_json, url=excluded.url, active=excluded.active`)
	}

	_, err = s.db.ExecContext(ctx, query,
		server.ID, server.Name, string(server.Kind), server.Command,
		string(argsJSON), string(envJSON), server.URL, server.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert server %q: %w", server.ID, err)
	}
	return nil
}

func (s *SQLStore) UpsertBinding(ctx context.Context, backendID string, binding ToolBinding) error {
	if err := binding.Validate(); err != nil {
		return err
	}

	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO tool_bindings (backend_id, scope_pattern, server_id, priority, enabled, auto_inject)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE priority=VALUES(priority), enabled=VALUES(enabled), auto_inject=VALUES(auto_inject)`
	default:
		query = s.rebind(`INSERT INTO tool_bindings (backend_id, scope_pattern, server_id, priority, enabled, auto_inject)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (backend_id, scope_pattern, server_id) DO UPDATE SET
		 priority=excluded.priority, enabled=excluded.enabled, auto_inject=excluded.auto_inject`)
	}

	_, err := s.db.ExecContext(ctx, query,
		backendID, binding.ScopePattern, binding.ServerID,
		binding.Priority, binding.Enabled, binding.AutoInject)
	if err != nil {
		return fmt.Errorf("failed to upsert binding %q: %w", binding.ScopePattern, err)
	}
	return nil
}

func (s *SQLStore) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tool_servers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete server %q: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (ToolServer, error) {
	var server ToolServer
	var kind, argsJSON, envJSON string
	if err := row.Scan(&server.ID, &server.Name, &kind, &server.Command,
		&argsJSON, &envJSON, &server.URL, &server.Active); err != nil {
		return ToolServer{}, err
	}
	server.Kind = transport.Kind(kind)
	if argsJSON != "" && argsJSON != "null" {
		if err := json.Unmarshal([]byte(argsJSON), &server.Args); err != nil {
			return ToolServer{}, fmt.Errorf("corrupt args for server %s: %w", server.ID, err)
		}
	}
	if envJSON != "" && envJSON != "null" {
		if err := json.Unmarshal([]byte(envJSON), &server.Env); err != nil {
			return ToolServer{}, fmt.Errorf("corrupt env for server %s: %w", server.ID, err)
		}
	}
	return server, nil
}

var _ Store = (*SQLStore)(nil)
