package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/joelkehle/patent-drafter/internal/llm"
)

const filePrefix = "chat_prompt_"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-]+)`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|secret|token|password|authorization)["']?\s*[:=]\s*["']?)([^\s"',]+)`),
	regexp.MustCompile(`()\bsk-[A-Za-z0-9_\-]{8,}`),
}

type Config struct {
	Dir      string
	MaxFiles int
	MaxChars int
	Clock    func() time.Time
}

// Logger appends one JSON line per LLM attempt to a daily file and keeps at
// most MaxFiles of them.
type Logger struct {
	mu   sync.Mutex
	cfg  Config
	day  string
	file *os.File
	out  zerolog.Logger
}

func New(cfg Config) (*Logger, error) {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 30
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 10000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chat log dir: %w", err)
	}
	return &Logger{cfg: cfg}, nil
}

func (l *Logger) Record(rec llm.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rotate(); err != nil {
		return err
	}
	ev := l.out.Log().
		Time("time", rec.Time).
		Str("backend", rec.Backend).
		Str("model", rec.Model).
		Int("attempt", rec.Attempt).
		Bool("success", rec.Success).
		Bool("truncated", rec.Truncated).
		Dur("duration", rec.Duration).
		Int("prompt_length", utf8.RuneCountInString(rec.Prompt)).
		Int("response_length", utf8.RuneCountInString(rec.Response)).
		Str("prompt", l.clip(Mask(rec.Prompt))).
		Str("response", l.clip(Mask(rec.Response)))
	if !rec.Success {
		ev = ev.Str("error_class", string(rec.Class)).Str("error", Mask(rec.Error))
	}
	ev.Send()
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) rotate() error {
	day := l.cfg.Clock().Format("20060102")
	if day == l.day && l.file != nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	path := filepath.Join(l.cfg.Dir, filePrefix+day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.file = nil
		return fmt.Errorf("open chat log: %w", err)
	}
	l.file = f
	l.day = day
	l.out = zerolog.New(f)
	l.prune()
	return nil
}

func (l *Logger) prune() {
	matches, err := filepath.Glob(filepath.Join(l.cfg.Dir, filePrefix+"*.log"))
	if err != nil || len(matches) <= l.cfg.MaxFiles {
		return
	}
	// Names embed the date, so lexical order is chronological.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-l.cfg.MaxFiles] {
		_ = os.Remove(old)
	}
}

func (l *Logger) clip(s string) string {
	if utf8.RuneCountInString(s) <= l.cfg.MaxChars {
		return s
	}
	count := 0
	for i := range s {
		if count == l.cfg.MaxChars {
			return s[:i] + fmt.Sprintf("...[truncated, %d chars total]", utf8.RuneCountInString(s))
		}
		count++
	}
	return s
}

// Mask hides credentials that may appear in prompts or error messages.
func Mask(s string) string {
	if s == "" {
		return s
	}
	for _, re := range sensitivePatterns {
		s = re.ReplaceAllString(s, "${1}***MASKED***")
	}
	return s
}
