package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("conversation not found")
	ErrRoundRecorded = errors.New("round already recorded")
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type Task struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Context     string    `db:"context" json:"context,omitempty"`
	BaseName    string    `db:"base_name" json:"baseName"`
	TotalRounds int       `db:"total_rounds" json:"totalRounds"`
	Status      Status    `db:"status" json:"status"`
	RoundCount  int       `db:"round_count" json:"roundCount"`
	CreatedAt   time.Time `db:"-" json:"createdAt"`
	UpdatedAt   time.Time `db:"-" json:"updatedAt"`

	CreatedRaw string `db:"created_at" json:"-"`
	UpdatedRaw string `db:"updated_at" json:"-"`
}

type Round struct {
	TaskID      string    `db:"task_id" json:"taskId"`
	RoundNumber int       `db:"round_number" json:"roundNumber"`
	Role        string    `db:"role" json:"role"`
	Prompt      string    `db:"prompt" json:"prompt"`
	Response    string    `db:"response" json:"response"`
	CreatedAt   time.Time `db:"-" json:"createdAt"`

	CreatedRaw string `db:"created_at" json:"-"`
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	context      TEXT NOT NULL DEFAULT '',
	base_name    TEXT NOT NULL DEFAULT '',
	total_rounds INTEGER NOT NULL DEFAULT 1,
	status       TEXT NOT NULL DEFAULT 'running',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_rounds (
	task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	round_number INTEGER NOT NULL,
	role         TEXT NOT NULL,
	prompt       TEXT NOT NULL DEFAULT '',
	response     TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	PRIMARY KEY (task_id, round_number, role)
);

CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
`

// Store records every generation run and its per-round prompts and responses.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() string {
	return s.clock().UTC().Format(time.RFC3339Nano)
}

func (s *Store) CreateTask(ctx context.Context, title, taskContext string, totalRounds int, baseName string) (string, error) {
	id := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, context, base_name, total_rounds, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, title, taskContext, baseName, totalRounds, StatusRunning, now, now)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// AppendRound stores one role's exchange. A (task, round, role) pair is
// written once; a second write returns ErrRoundRecorded.
func (s *Store) AppendRound(ctx context.Context, taskID string, roundNumber int, role, prompt, response string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_rounds (task_id, round_number, role, prompt, response, created_at)
		 SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM tasks WHERE id = ?)
		 ON CONFLICT (task_id, round_number, role) DO NOTHING`,
		taskID, roundNumber, role, prompt, response, s.now(), taskID)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("%w: task %s round %d %s", ErrRoundRecorded, taskID, roundNumber, role)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, s.now(), taskID)
	return err
}

func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, s.now(), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return nil
}

const taskColumns = `t.id, t.title, t.context, t.base_name, t.total_rounds, t.status, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM conversation_rounds r WHERE r.task_id = t.id) AS round_count`

func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return Task{}, err
	}
	t.parseTimes()
	return t, nil
}

// ListTasks returns the most recent tasks first, without their context text.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var tasks []Task
	if err := s.db.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks t ORDER BY t.created_at DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Context = ""
		tasks[i].parseTimes()
	}
	return tasks, nil
}

func (s *Store) Rounds(ctx context.Context, taskID string) ([]Round, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	var rounds []Round
	err := s.db.SelectContext(ctx, &rounds,
		`SELECT task_id, round_number, role, prompt, response, created_at FROM conversation_rounds
		 WHERE task_id = ? ORDER BY round_number, CASE role WHEN 'reviewer' THEN 1 ELSE 0 END`, taskID)
	if err != nil {
		return nil, err
	}
	for i := range rounds {
		rounds[i].CreatedAt, _ = time.Parse(time.RFC3339Nano, rounds[i].CreatedRaw)
	}
	return rounds, nil
}

func (s *Store) Round(ctx context.Context, taskID string, roundNumber int, role string) (Round, error) {
	var r Round
	err := s.db.GetContext(ctx, &r,
		`SELECT task_id, round_number, role, prompt, response, created_at FROM conversation_rounds
		 WHERE task_id = ? AND round_number = ? AND role = ?`, taskID, roundNumber, strings.ToLower(role))
	if errors.Is(err, sql.ErrNoRows) {
		return Round{}, fmt.Errorf("%w: %s round %d %s", ErrNotFound, taskID, roundNumber, role)
	}
	if err != nil {
		return Round{}, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedRaw)
	return r, nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_rounds WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return tx.Commit()
}

func (t *Task) parseTimes() {
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, t.CreatedRaw)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, t.UpdatedRaw)
}
