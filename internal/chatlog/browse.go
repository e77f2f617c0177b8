package chatlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidName = errors.New("invalid chat log name")
	ErrNotFound    = errors.New("chat log not found")
)

var namePattern = regexp.MustCompile(`^` + filePrefix + `\d{8}$`)

const maxLineBytes = 4 << 20

type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Preview is the head of one log file. Lines are the raw JSON entries.
type Preview struct {
	Name       string   `json:"name"`
	Lines      []string `json:"lines"`
	TotalLines int      `json:"totalLines"`
	Truncated  bool     `json:"truncated"`
}

// Files lists existing chat log files, newest first.
func (l *Logger) Files() ([]FileInfo, error) {
	matches, err := filepath.Glob(filepath.Join(l.cfg.Dir, filePrefix+"*.log"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	out := make([]FileInfo, 0, len(matches))
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:       strings.TrimSuffix(filepath.Base(m), ".log"),
			Size:       st.Size(),
			ModifiedAt: st.ModTime().UTC(),
		})
	}
	return out, nil
}

// Preview returns at most maxLines entries from the start of the named file.
// The name may carry the .log suffix.
func (l *Logger) Preview(name string, maxLines int) (Preview, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".log")
	if !namePattern.MatchString(name) {
		return Preview{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if maxLines <= 0 {
		maxLines = 100
	}
	f, err := os.Open(filepath.Join(l.cfg.Dir, name+".log"))
	if errors.Is(err, os.ErrNotExist) {
		return Preview{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Preview{}, err
	}
	defer f.Close()

	p := Preview{Name: name, Lines: []string{}}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		p.TotalLines++
		if len(p.Lines) < maxLines {
			p.Lines = append(p.Lines, sc.Text())
		}
	}
	if err := sc.Err(); err != nil {
		return Preview{}, fmt.Errorf("read chat log %s: %w", name, err)
	}
	p.Truncated = p.TotalLines > len(p.Lines)
	return p, nil
}
