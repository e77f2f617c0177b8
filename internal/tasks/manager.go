package tasks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/joelkehle/patent-drafter/internal/chatlog"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var ErrStopped = errors.New("task manager stopped")

type ProgressFunc func(percent int, message string)

// WorkFunc runs on a worker goroutine. ctx is cancelled when the task is
// cancelled or the manager stops.
type WorkFunc func(ctx context.Context, progress ProgressFunc) (any, error)

type Config struct {
	MaxWorkers    int
	Retention     time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time
	Logger        zerolog.Logger
}

type View struct {
	ID          string     `json:"taskId"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Stats.RunningTasks counts occupied worker slots. A cancelled task keeps its
// slot until its work returns, so it can exceed CountsByStatus[StatusRunning].
type Stats struct {
	TotalTasks     int            `json:"totalTasks"`
	RunningTasks   int            `json:"runningTasks"`
	MaxWorkers     int            `json:"maxWorkers"`
	CountsByStatus map[Status]int `json:"countsByStatus"`
}

type task struct {
	id          string
	seq         uint64
	status      Status
	progress    int
	message     string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	result      any
	err         string
	work        WorkFunc
	cancel      context.CancelFunc
}

func (t *task) view() View {
	v := View{
		ID:        t.id,
		Status:    t.status,
		Progress:  t.progress,
		Message:   t.message,
		CreatedAt: t.createdAt,
	}
	if !t.startedAt.IsZero() {
		s := t.startedAt
		v.StartedAt = &s
	}
	if !t.completedAt.IsZero() {
		c := t.completedAt
		v.CompletedAt = &c
	}
	if t.status == StatusCompleted {
		v.Result = t.result
	}
	if t.status == StatusFailed {
		v.Error = t.err
	}
	return v
}

// Manager is a bounded worker pool over an in-memory task table. mu guards
// the table and is never held while work runs.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]*task
	seq     uint64
	running int
	stopped bool

	cfg     Config
	logger  zerolog.Logger
	baseCtx context.Context
	stopAll context.CancelFunc
	sched   *cron.Cron
	wg      sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tasks:   make(map[string]*task),
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "task_manager").Logger(),
		baseCtx: ctx,
		stopAll: cancel,
	}
}

func (m *Manager) MaxWorkers() int { return m.cfg.MaxWorkers }

// Submit records a pending task and starts it if a worker slot is free.
func (m *Manager) Submit(work WorkFunc) (string, error) {
	if work == nil {
		return "", errors.New("nil work function")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return "", ErrStopped
	}
	m.seq++
	t := &task{
		id:        uuid.NewString(),
		seq:       m.seq,
		status:    StatusPending,
		message:   "Queued",
		createdAt: m.cfg.Clock(),
		work:      work,
	}
	m.tasks[t.id] = t
	m.logger.Info().Str("task_id", t.id).Msg("task submitted")
	m.dispatchLocked()
	return t.id, nil
}

func (m *Manager) Status(id string) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return View{}, false
	}
	return t.view(), true
}

// Cancel moves a pending or running task to Cancelled. A running task's
// context is cancelled; the work returns on its own and its outcome is
// discarded.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	switch t.status {
	case StatusPending:
		t.message = "Cancelled before start"
	case StatusRunning:
		t.message = "Cancellation requested"
		if t.cancel != nil {
			t.cancel()
		}
	default:
		return false
	}
	t.status = StatusCancelled
	t.completedAt = m.cfg.Clock()
	m.logger.Info().Str("task_id", id).Msg("task cancelled")
	return true
}

func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		TotalTasks:     len(m.tasks),
		MaxWorkers:     m.cfg.MaxWorkers,
		CountsByStatus: map[Status]int{},
	}
	for _, s := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled} {
		st.CountsByStatus[s] = 0
	}
	for _, t := range m.tasks {
		st.CountsByStatus[t.status]++
	}
	st.RunningTasks = m.running
	return st
}

// Start schedules the retention sweep.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.sched != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+m.cfg.SweepInterval.String(), func() { m.Sweep() }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	m.sched = c
	return nil
}

// Stop cancels running tasks, stops the sweep and waits for workers until
// ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	now := m.cfg.Clock()
	for _, t := range m.tasks {
		switch t.status {
		case StatusRunning:
			t.message = "Cancelled by shutdown"
		case StatusPending:
			t.message = "Cancelled before start"
		default:
			continue
		}
		t.status = StatusCancelled
		t.completedAt = now
	}
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()
	m.stopAll()

	done := make(chan struct{})
	go func() {
		if sched != nil {
			<-sched.Stop().Done()
		}
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop task manager: %w", ctx.Err())
	}
}

// Sweep drops terminal tasks that finished more than Retention ago.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.cfg.Clock().Add(-m.cfg.Retention)
	removed := 0
	for id, t := range m.tasks {
		if t.status.Terminal() && !t.completedAt.IsZero() && t.completedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("swept expired tasks")
	}
	return removed
}

// dispatchLocked starts pending tasks oldest first until the pool is full.
func (m *Manager) dispatchLocked() {
	if m.stopped || m.running >= m.cfg.MaxWorkers {
		return
	}
	var pending []*task
	for _, t := range m.tasks {
		if t.status == StatusPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].createdAt.Equal(pending[j].createdAt) {
			return pending[i].createdAt.Before(pending[j].createdAt)
		}
		return pending[i].seq < pending[j].seq
	})
	for _, t := range pending {
		if m.running >= m.cfg.MaxWorkers {
			return
		}
		ctx, cancel := context.WithCancel(m.baseCtx)
		t.status = StatusRunning
		t.startedAt = m.cfg.Clock()
		t.message = "Running"
		t.cancel = cancel
		m.running++
		m.wg.Add(1)
		go m.execute(ctx, t)
	}
}

func (m *Manager) execute(ctx context.Context, t *task) {
	var (
		result any
		err    error
	)
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		m.finish(t, result, err)
	}()
	m.logger.Info().Str("task_id", t.id).Msg("task started")
	result, err = t.work(ctx, func(percent int, message string) { m.report(t, percent, message) })
}

func (m *Manager) report(t *task, percent int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.status != StatusRunning {
		return
	}
	t.progress = max(0, min(100, percent))
	t.message = message
}

// finish commits the outcome only while the task is still Running, then
// hands the slot to the next pending task.
func (m *Manager) finish(t *task, result any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--
	if t.cancel != nil {
		t.cancel()
	}
	t.work = nil
	if t.status == StatusRunning {
		t.completedAt = m.cfg.Clock()
		if err != nil {
			t.status = StatusFailed
			t.err = SanitizeError(err)
			t.message = "Failed: " + t.err
			m.logger.Error().Str("task_id", t.id).Err(err).Msg("task failed")
		} else {
			t.status = StatusCompleted
			t.result = result
			t.progress = 100
			if t.message == "" || t.message == "Running" {
				t.message = "Completed"
			}
			m.logger.Info().Str("task_id", t.id).Msg("task completed")
		}
	} else {
		m.logger.Info().Str("task_id", t.id).Str("status", string(t.status)).Msg("discarding outcome of cancelled task")
	}
	m.dispatchLocked()
}

const maxErrorChars = 500

var pathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.\-]+){2,}`)

// SanitizeError keeps the first line of err with secrets and paths hidden.
func SanitizeError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	msg = pathPattern.ReplaceAllString(chatlog.Mask(msg), "[path]")
	if utf8.RuneCountInString(msg) > maxErrorChars {
		msg = string([]rune(msg)[:maxErrorChars]) + "..."
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
