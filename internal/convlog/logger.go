// Package convlog writes dialogue events as NDJSON, one file per session.
package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one logged dialogue event.
type Event struct {
	Timestamp  string         `json:"ts"`
	ScenarioID string         `json:"scenario_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Event types.
const (
	EventSessionStarted    = "session_started"
	EventLearnerMessage    = "learner_message"
	EventPersonaReply      = "persona_reply"
	EventObjectiveUpdate   = "objective_update"
	EventScenarioCompleted = "scenario_completed"
	EventSessionEvicted    = "session_evicted"
)

// Logger accepts events without blocking the caller.
type Logger interface {
	Log(event Event)
	Close() error
}

// Config controls conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// New returns a Logger. A disabled config yields a no-op logger.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("convlog: dir cannot be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("convlog: create dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("convlog: create global dir: %w", err)
		}
	}

	l := &fileLogger{
		cfg:    cfg,
		log:    logger,
		queue:  make(chan Event, cfg.QueueSize),
		doneCh: make(chan struct{}),
	}
	go l.run()
	return l, nil
}

type fileLogger struct {
	cfg     Config
	log     *slog.Logger
	queue   chan Event
	doneCh  chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func (l *fileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		n := l.dropped.Add(1)
		l.log.Warn("Conversation log queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
			"dropped_total", n)
	}
}

func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.doneCh
	return nil
}

func (l *fileLogger) run() {
	defer close(l.doneCh)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.log.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safeSegment(event.ScenarioID), safeSegment(event.SessionID)+".ndjson")
		if err := appendLine(path, line); err != nil {
			l.log.Warn("Failed to write conversation event", "path", path, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.log.Warn("Failed to write global conversation event", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeSegment(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Nop discards every event.
type Nop struct{}

// Log does nothing.
func (Nop) Log(Event) {}

// Close does nothing.
func (Nop) Close() error { return nil }
