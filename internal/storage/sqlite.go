package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable record store for one session: interviews and their messages.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the SQLite database at path and initializes the schema.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storageErr("create data directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("ping database", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, storageErr("set busy timeout", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storageErr("set journal mode", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize applies any embedded migrations that have not been applied yet.
// It is safe to call on every start, against empty or existing storage.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return storageErr("create tables", fmt.Errorf("creating schema_version table: %w", err))
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return storageErr("create tables", fmt.Errorf("reading migrations directory: %w", err))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := s.applyMigration(ctx, entry.Name()); err != nil {
			return storageErr("create tables", err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, name string) error {
	version, err := parseMigrationVersion(name)
	if err != nil {
		return err
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
		return fmt.Errorf("checking migration %d: %w", version, err)
	}
	if exists > 0 {
		return nil
	}

	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Interviews ---

// CreateInterview inserts a new interview with status "created" and returns its id.
func (s *Store) CreateInterview(ctx context.Context, title Title, skills []Skill) (string, error) {
	if err := validateTitle(title); err != nil {
		return "", err
	}
	normalized, err := normalizeSkills(skills)
	if err != nil {
		return "", err
	}
	skillsJSON, err := json.Marshal(normalized)
	if err != nil {
		return "", storageErr("create interview", fmt.Errorf("marshalling skills: %w", err))
	}

	id := uuid.New().String()
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interviews (interviewId, title, skills, status, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(title), string(skillsJSON), string(StatusCreated), now, now,
	)
	if err != nil {
		return "", storageErr("create interview", err)
	}
	return id, nil
}

// ListInterviews returns every interview header, newest first.
func (s *Store) ListInterviews(ctx context.Context) ([]InterviewSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interviewId, title, skills, status, createdAt, updatedAt
		FROM interviews ORDER BY createdAt DESC, rowid DESC`)
	if err != nil {
		return nil, storageErr("get all interviews", err)
	}
	defer rows.Close()

	results := []InterviewSummary{}
	for rows.Next() {
		var r interviewRow
		if err := rows.Scan(&r.id, &r.title, &r.skills, &r.status, &r.createdAt, &r.updatedAt); err != nil {
			return nil, storageErr("get all interviews", err)
		}
		summary, err := r.parse()
		if err != nil {
			return nil, storageErr("get all interviews", err)
		}
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get all interviews", err)
	}
	return results, nil
}

// GetInterview returns the interview header and its transcript in append order.
// Returns ErrNotFound if no interview has the given id.
func (s *Store) GetInterview(ctx context.Context, id string) (InterviewDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.interviewId, i.title, i.skills, i.status, i.createdAt, i.updatedAt,
			m.messageId, m.role, m.content, m.timestamp
		FROM interviews i
		LEFT JOIN messages m ON m.interviewId = i.interviewId
		WHERE i.interviewId = ?
		ORDER BY m.rowid ASC`, id)
	if err != nil {
		return InterviewDetail{}, storageErr("get interview", err)
	}
	defer rows.Close()

	var (
		detail InterviewDetail
		found  bool
	)
	for rows.Next() {
		var (
			r         interviewRow
			messageID sql.NullString
			role      sql.NullString
			content   sql.NullString
			timestamp sql.NullInt64
		)
		if err := rows.Scan(&r.id, &r.title, &r.skills, &r.status, &r.createdAt, &r.updatedAt,
			&messageID, &role, &content, &timestamp); err != nil {
			return InterviewDetail{}, storageErr("get interview", err)
		}
		if !found {
			summary, err := r.parse()
			if err != nil {
				return InterviewDetail{}, storageErr("get interview", err)
			}
			detail = InterviewDetail{InterviewSummary: summary, Messages: []Message{}}
			found = true
		}
		// LEFT JOIN yields a single all-NULL message row for an empty transcript.
		if !messageID.Valid {
			continue
		}
		msg := Message{
			MessageID:   messageID.String,
			InterviewID: detail.InterviewID,
			Role:        Role(role.String),
			Content:     content.String,
			Timestamp:   timestamp.Int64,
		}
		if !msg.Role.Valid() {
			return InterviewDetail{}, storageErr("get interview",
				fmt.Errorf("message %s has unknown role %q", msg.MessageID, msg.Role))
		}
		detail.Messages = append(detail.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return InterviewDetail{}, storageErr("get interview", err)
	}
	if !found {
		return InterviewDetail{}, ErrNotFound
	}
	return detail, nil
}

// SetStatus changes the interview status and bumps updatedAt. No transition rules apply.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE interviews SET status = ?, updatedAt = ? WHERE interviewId = ?`,
		string(status), s.now().UnixMilli(), id,
	)
	if err != nil {
		return storageErr("update interview status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update interview status", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

// AppendMessage writes one immutable message and returns the stored record.
// Returns ErrNotFound if the interview does not exist and a StorageError
// wrapping ErrDuplicate if the message id is already taken.
func (s *Store) AppendMessage(ctx context.Context, in NewMessage) (Message, error) {
	if in.InterviewID == "" {
		return Message{}, &ValidationError{Field: "interviewId", Reason: "interviewId is required"}
	}
	if in.MessageID == "" {
		return Message{}, &ValidationError{Field: "messageId", Reason: "messageId is required"}
	}
	if !in.Role.Valid() {
		return Message{}, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", in.Role)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, storageErr("add message", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interviews WHERE interviewId = ?`, in.InterviewID,
	).Scan(&exists); err != nil {
		return Message{}, storageErr("add message", err)
	}
	if exists == 0 {
		return Message{}, ErrNotFound
	}

	msg := Message{
		MessageID:   in.MessageID,
		InterviewID: in.InterviewID,
		Role:        in.Role,
		Content:     in.Content,
		Timestamp:   s.now().UnixMilli(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (messageId, interviewId, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		msg.MessageID, msg.InterviewID, string(msg.Role), msg.Content, msg.Timestamp,
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return Message{}, storageErr("add message", fmt.Errorf("message %s: %w", msg.MessageID, ErrDuplicate))
		}
		return Message{}, storageErr("add message", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, storageErr("add message", err)
	}
	return msg, nil
}

func isPrimaryKeyViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// interviewRow holds raw interview columns before validation.
type interviewRow struct {
	id        sql.NullString
	title     sql.NullString
	skills    sql.NullString
	status    sql.NullString
	createdAt sql.NullInt64
	updatedAt sql.NullInt64
}

func (r interviewRow) parse() (InterviewSummary, error) {
	if r.id.String == "" || r.createdAt.Int64 == 0 || r.updatedAt.Int64 == 0 {
		return InterviewSummary{}, errors.New("invalid interview data in database")
	}

	var skillList []Skill
	if err := json.Unmarshal([]byte(r.skills.String), &skillList); err != nil {
		return InterviewSummary{}, fmt.Errorf("parsing skills for interview %s: %w", r.id.String, err)
	}

	summary := InterviewSummary{
		InterviewID: r.id.String,
		Title:       Title(r.title.String),
		Skills:      skillList,
		Status:      Status(r.status.String),
		CreatedAt:   r.createdAt.Int64,
		UpdatedAt:   r.updatedAt.Int64,
	}
	if !summary.Status.Valid() {
		return InterviewSummary{}, fmt.Errorf("interview %s has unknown status %q", summary.InterviewID, summary.Status)
	}
	if !summary.Title.Valid() {
		return InterviewSummary{}, fmt.Errorf("interview %s has unknown title %q", summary.InterviewID, summary.Title)
	}
	if len(skillList) == 0 {
		return InterviewSummary{}, fmt.Errorf("interview %s has no skills", summary.InterviewID)
	}
	for _, sk := range skillList {
		if !sk.Valid() {
			return InterviewSummary{}, fmt.Errorf("interview %s has unknown skill %q", summary.InterviewID, sk)
		}
	}
	return summary, nil
}
