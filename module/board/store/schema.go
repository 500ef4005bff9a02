package store

import (
	"strconv"
	"strings"
)

// Dialect covers the few places sqlite and postgres disagree.
type Dialect struct {
	Name       string
	DriverName string
	idColumn   string
	numbered   bool // $1 placeholders instead of ?
}

var (
	SQLite   = Dialect{Name: "sqlite", DriverName: "sqlite", idColumn: "INTEGER PRIMARY KEY AUTOINCREMENT"}
	Postgres = Dialect{Name: "postgres", DriverName: "pgx", idColumn: "BIGSERIAL PRIMARY KEY", numbered: true}
)

// Rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// migrations are applied in order and recorded in schema_version.
// {{ID}} expands to the dialect's auto-increment primary key.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{ID}},
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id {{ID}},
		name TEXT NOT NULL,
		owner BIGINT NOT NULL REFERENCES users(id),
		finished INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id {{ID}},
		project_id BIGINT NOT NULL REFERENCES projects(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		assignee TEXT,
		status TEXT NOT NULL DEFAULT 'todo',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id {{ID}},
		task_id BIGINT NOT NULL REFERENCES tasks(id),
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id {{ID}},
		project_id BIGINT NOT NULL REFERENCES projects(id),
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS collaborators (
		id {{ID}},
		project_id BIGINT NOT NULL REFERENCES projects(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL DEFAULT 'member',
		created_at TEXT NOT NULL,
		UNIQUE (project_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id {{ID}},
		user_id BIGINT NOT NULL REFERENCES users(id),
		project_id BIGINT NOT NULL,
		body TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id)`,
}

func (d Dialect) expand(stmt string) string {
	return strings.ReplaceAll(stmt, "{{ID}}", d.idColumn)
}
