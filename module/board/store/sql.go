package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PBoard/logger"
	"PBoard/module/board/model"
	"PBoard/tools/errs"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// fixed width so stored timestamps sort as text
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore implements Store on database/sql for both dialects.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects using driver "sqlite" (dsn is a file path) or "postgres"
// (dsn is a connection URL) and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case SQLite.Name:
		return NewSQLiteStore(ctx, dsn)
	case Postgres.Name:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown database driver", "driver", driver)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database file.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open(SQLite.DriverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(1) // one writer at a time
	db.SetMaxIdleConns(1)
	return newSQLStore(ctx, db, SQLite)
}

func NewPostgresStore(ctx context.Context, url string) (*SQLStore, error) {
	db, err := sql.Open(Postgres.DriverName, url)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(ctx, db, Postgres)
}

func newSQLStore(ctx context.Context, db *sql.DB, d Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return errors.Wrap(err, "creating schema_version table")
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return errors.Wrap(err, "reading schema version")
	}

	for i := current; i < len(migrations); i++ {
		logger.Infof("applying migration %d (%s)", i+1, s.dialect.Name)
		if _, err := s.db.ExecContext(ctx, s.dialect.expand(migrations[i])); err != nil {
			return errors.Wrapf(err, "migration %d", i+1)
		}
		if _, err := s.exec(ctx, s.db, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", i+1, s.stamp()); err != nil {
			return errors.Wrapf(err, "recording migration %d", i+1)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

// ===== helpers =====

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id.
func (s *SQLStore) insert(ctx context.Context, q execer, query string, args ...any) (int64, error) {
	var id int64
	err := s.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errs.ErrRecordExist.WrapMsg(err.Error())
		}
		return 0, errors.WithStack(err)
	}
	return id, nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLStore) stamp() string { return s.now().UTC().Format(timeFormat) }

func parseTime(v string) time.Time {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrRecordNotFound.WrapMsg(what + " not found")
	}
	return errors.WithStack(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ===== users =====

func (s *SQLStore) CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	id, err := s.insert(ctx, s.db, "INSERT INTO users (username, password) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		return nil, err
	}
	return &model.User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.scanUser(s.queryRow(ctx, s.db, "SELECT id, username, password FROM users WHERE id = ?", id))
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.scanUser(s.queryRow(ctx, s.db, "SELECT id, username, password FROM users WHERE username = ?", username))
}

func (s *SQLStore) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// ===== projects =====

const projectColumns = `p.id, p.name, p.owner, COALESCE(u.username, ''), p.finished, p.created_at`

func scanProject(sc interface{ Scan(...any) error }) (*model.Project, error) {
	var (
		p        model.Project
		finished int
		created  string
	)
	if err := sc.Scan(&p.ID, &p.Name, &p.Owner, &p.OwnerName, &finished, &created); err != nil {
		return nil, err
	}
	p.Finished = finished != 0
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// CreateProject stores the project and its owner collaborator together.
func (s *SQLStore) CreateProject(ctx context.Context, name string, ownerID int64) (*model.Project, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		var err error
		id, err = s.insert(ctx, tx, "INSERT INTO projects (name, owner, finished, created_at) VALUES (?, ?, ?, ?)",
			name, ownerID, boolToInt(false), now)
		if err != nil {
			return err
		}
		_, err = s.insert(ctx, tx, "INSERT INTO collaborators (project_id, user_id, role, created_at) VALUES (?, ?, ?, ?)",
			id, ownerID, model.RoleOwner, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

func (s *SQLStore) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	p, err := scanProject(s.queryRow(ctx, s.db,
		"SELECT "+projectColumns+" FROM projects p LEFT JOIN users u ON p.owner = u.id WHERE p.id = ?", id))
	if err != nil {
		return nil, notFound(err, "project")
	}
	return p, nil
}

func (s *SQLStore) ListProjectsForUser(ctx context.Context, userID int64) ([]model.Project, error) {
	rows, err := s.query(ctx, s.db, "SELECT "+projectColumns+`
		FROM projects p
		JOIN collaborators c ON c.project_id = p.id
		LEFT JOIN users u ON p.owner = u.id
		WHERE c.user_id = ?
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	out := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, *p)
	}
	return out, errors.WithStack(rows.Err())
}

func (s *SQLStore) FinishProject(ctx context.Context, id int64) (*model.Project, error) {
	res, err := s.exec(ctx, s.db, "UPDATE projects SET finished = ? WHERE id = ?", boolToInt(true), id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.ErrRecordNotFound.WrapMsg("project not found")
	}
	return s.GetProject(ctx, id)
}

// ===== tasks =====

const taskColumns = `id, project_id, title, description, assignee, status, created_at`

func scanTask(sc interface{ Scan(...any) error }) (*model.Task, error) {
	var (
		t        model.Task
		assignee sql.NullString
		created  string
	)
	if err := sc.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &assignee, &t.Status, &created); err != nil {
		return nil, err
	}
	if assignee.Valid {
		a := assignee.String
		t.Assignee = &a
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func (s *SQLStore) CreateTask(ctx context.Context, t *model.Task) (*model.Task, error) {
	status := t.Status
	if status == "" {
		status = model.StatusTodo
	}
	id, err := s.insert(ctx, s.db,
		"INSERT INTO tasks (project_id, title, description, assignee, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		t.ProjectID, t.Title, t.Description, t.Assignee, status, s.stamp())
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

func (s *SQLStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	t, err := scanTask(s.queryRow(ctx, s.db, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "task")
	}
	return t, nil
}

func (s *SQLStore) ListTasks(ctx context.Context, projectID int64) ([]model.Task, error) {
	rows, err := s.query(ctx, s.db, "SELECT "+taskColumns+" FROM tasks WHERE project_id = ? ORDER BY id", projectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	out := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, *t)
	}
	return out, errors.WithStack(rows.Err())
}

func (s *SQLStore) UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error) {
	res, err := s.exec(ctx, s.db, `UPDATE tasks SET
		title = COALESCE(?, title),
		description = COALESCE(?, description),
		assignee = COALESCE(?, assignee),
		status = COALESCE(?, status)
		WHERE id = ?`,
		patch.Title, patch.Description, patch.Assignee, patch.Status, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.ErrRecordNotFound.WrapMsg("task not found")
	}
	return s.GetTask(ctx, id)
}

// ===== comments & messages =====

func (s *SQLStore) CreateComment(ctx context.Context, taskID int64, author, body string) (*model.Comment, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	id, err := s.insert(ctx, s.db, "INSERT INTO comments (task_id, author, body, created_at) VALUES (?, ?, ?, ?)",
		taskID, author, body, now.Format(timeFormat))
	if err != nil {
		return nil, err
	}
	return &model.Comment{ID: id, TaskID: taskID, ProjectID: task.ProjectID, Author: author, Body: body, CreatedAt: parseTime(now.Format(timeFormat))}, nil
}

func (s *SQLStore) ListComments(ctx context.Context, taskID int64) ([]model.Comment, error) {
	rows, err := s.query(ctx, s.db, `SELECT c.id, c.task_id, t.project_id, c.author, c.body, c.created_at
		FROM comments c JOIN tasks t ON t.id = c.task_id
		WHERE c.task_id = ? ORDER BY c.id`, taskID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	out := []model.Comment{}
	for rows.Next() {
		var (
			c       model.Comment
			created string
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.Author, &c.Body, &created); err != nil {
			return nil, errors.WithStack(err)
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, errors.WithStack(rows.Err())
}

func (s *SQLStore) CreateMessage(ctx context.Context, projectID int64, author, body string) (*model.Message, error) {
	now := s.now().UTC()
	id, err := s.insert(ctx, s.db, "INSERT INTO messages (project_id, author, body, created_at) VALUES (?, ?, ?, ?)",
		projectID, author, body, now.Format(timeFormat))
	if err != nil {
		return nil, err
	}
	return &model.Message{ID: id, ProjectID: projectID, Author: author, Body: body, CreatedAt: parseTime(now.Format(timeFormat))}, nil
}

func (s *SQLStore) ListMessages(ctx context.Context, projectID int64) ([]model.Message, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT id, project_id, author, body, created_at FROM messages WHERE project_id = ? ORDER BY created_at, id", projectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var (
			m       model.Message
			created string
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Author, &m.Body, &created); err != nil {
			return nil, errors.WithStack(err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, errors.WithStack(rows.Err())
}

// ===== collaborators =====

const collaboratorQuery = `SELECT c.project_id, c.user_id, c.role, COALESCE(u.username, '')
	FROM collaborators c LEFT JOIN users u ON c.user_id = u.id`

func (s *SQLStore) getCollaborator(ctx context.Context, q execer, projectID, userID int64) (*model.Collaborator, error) {
	var c model.Collaborator
	err := s.queryRow(ctx, q, collaboratorQuery+" WHERE c.project_id = ? AND c.user_id = ?", projectID, userID).
		Scan(&c.ProjectID, &c.UserID, &c.Role, &c.Username)
	if err != nil {
		return nil, notFound(err, "collaborator")
	}
	return &c, nil
}

func (s *SQLStore) GetCollaborator(ctx context.Context, projectID, userID int64) (*model.Collaborator, error) {
	return s.getCollaborator(ctx, s.db, projectID, userID)
}

func (s *SQLStore) ListCollaborators(ctx context.Context, projectID int64) ([]model.Collaborator, error) {
	rows, err := s.query(ctx, s.db, collaboratorQuery+" WHERE c.project_id = ? ORDER BY c.id", projectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	out := []model.Collaborator{}
	for rows.Next() {
		var c model.Collaborator
		if err := rows.Scan(&c.ProjectID, &c.UserID, &c.Role, &c.Username); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, c)
	}
	return out, errors.WithStack(rows.Err())
}

func (s *SQLStore) IsProjectCollaborator(ctx context.Context, userID, projectID int64) (bool, error) {
	var n int
	err := s.queryRow(ctx, s.db, "SELECT COUNT(1) FROM collaborators WHERE project_id = ? AND user_id = ?",
		projectID, userID).Scan(&n)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return n > 0, nil
}

func (s *SQLStore) addNotification(ctx context.Context, q execer, userID, projectID int64, body string) (*model.Notification, error) {
	now := s.now().UTC().Format(timeFormat)
	id, err := s.insert(ctx, q, "INSERT INTO notifications (user_id, project_id, body, read, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, projectID, body, boolToInt(false), now)
	if err != nil {
		return nil, err
	}
	return &model.Notification{ID: id, UserID: userID, ProjectID: projectID, Body: body, CreatedAt: parseTime(now)}, nil
}

func (s *SQLStore) AddCollaborator(ctx context.Context, projectID, userID int64, role, note string) (*model.Collaborator, *model.Notification, error) {
	var (
		coll  *model.Collaborator
		notif *model.Notification
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.insert(ctx, tx, "INSERT INTO collaborators (project_id, user_id, role, created_at) VALUES (?, ?, ?, ?)",
			projectID, userID, role, s.stamp()); err != nil {
			return err
		}
		var err error
		if coll, err = s.getCollaborator(ctx, tx, projectID, userID); err != nil {
			return err
		}
		notif, err = s.addNotification(ctx, tx, userID, projectID, note)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return coll, notif, nil
}

func (s *SQLStore) UpdateCollaboratorRole(ctx context.Context, projectID, userID int64, role, note string) (*model.Collaborator, *model.Notification, error) {
	var (
		coll  *model.Collaborator
		notif *model.Notification
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, "UPDATE collaborators SET role = ? WHERE project_id = ? AND user_id = ?", role, projectID, userID)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.ErrRecordNotFound.WrapMsg("collaborator not found")
		}
		if coll, err = s.getCollaborator(ctx, tx, projectID, userID); err != nil {
			return err
		}
		notif, err = s.addNotification(ctx, tx, userID, projectID, note)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return coll, notif, nil
}

func (s *SQLStore) RemoveCollaborator(ctx context.Context, projectID, userID int64, note string) (*model.Collaborator, *model.Notification, error) {
	var (
		coll  *model.Collaborator
		notif *model.Notification
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if coll, err = s.getCollaborator(ctx, tx, projectID, userID); err != nil {
			return err
		}
		if _, err = s.exec(ctx, tx, "DELETE FROM collaborators WHERE project_id = ? AND user_id = ?", projectID, userID); err != nil {
			return errors.WithStack(err)
		}
		notif, err = s.addNotification(ctx, tx, userID, projectID, note)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return coll, notif, nil
}

// ===== notifications =====

func (s *SQLStore) ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := s.query(ctx, s.db, `SELECT id, user_id, project_id, body, read, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var (
			n       model.Notification
			read    int
			created string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.ProjectID, &n.Body, &read, &created); err != nil {
			return nil, errors.WithStack(err)
		}
		n.Read = read != 0
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, errors.WithStack(rows.Err())
}

func (s *SQLStore) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	res, err := s.exec(ctx, s.db, "UPDATE notifications SET read = ? WHERE id = ? AND user_id = ?", boolToInt(true), id, userID)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrRecordNotFound.WrapMsg("notification not found")
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
