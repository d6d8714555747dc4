// Package archive persists conversation transcripts as NDJSON, one file
// per identity plus an optional global feed. Writes are asynchronous
// behind a bounded queue so archival can never stall a chat stream.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/config"
)

// Event is one archived conversation record.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	Email      string         `json:"email"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Archiver accepts events for background persistence.
type Archiver interface {
	Log(Event)
	Close() error
}

// Noop discards all events. Used when archival is disabled.
type Noop struct{}

func (Noop) Log(Event)    {}
func (Noop) Close() error { return nil }

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// cleanForReadability strips ANSI escapes and non-printable control
// characters so archived transcripts stay grep-able.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

type fileArchiver struct {
	dir        string
	globalPath string
	queue      chan Event
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	log        *slog.Logger
}

// New creates an archiver from config. Returns a Noop when disabled.
func New(cfg config.ConversationLogConfig, logger *slog.Logger) (Archiver, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	globalPath := ""
	if cfg.GlobalEnabled {
		globalPath = cfg.GlobalPath
		if err := os.MkdirAll(filepath.Dir(globalPath), 0750); err != nil {
			return nil, fmt.Errorf("create global archive directory: %w", err)
		}
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	a := &fileArchiver{
		dir:        cfg.Dir,
		globalPath: globalPath,
		queue:      make(chan Event, queueSize),
		done:       make(chan struct{}),
		log:        logger,
	}
	a.wg.Add(1)
	go a.drain()
	return a, nil
}

// Log enqueues an event. When the queue is full the oldest pending
// event is dropped so producers never block.
func (a *fileArchiver) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	select {
	case <-a.done:
		return
	default:
	}

	for {
		select {
		case a.queue <- ev:
			return
		default:
		}
		select {
		case dropped := <-a.queue:
			a.log.Warn("archive queue full, dropping oldest event",
				"email", dropped.Email, "event_type", dropped.EventType)
		default:
		}
	}
}

// Close stops the worker after flushing queued events.
func (a *fileArchiver) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

func (a *fileArchiver) drain() {
	defer a.wg.Done()
	for {
		select {
		case ev := <-a.queue:
			a.write(ev)
		case <-a.done:
			for {
				select {
				case ev := <-a.queue:
					a.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *fileArchiver) write(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		a.log.Warn("failed to marshal archive event", "error", err)
		return
	}
	line = append(line, '\n')

	path := filepath.Join(a.dir, sanitizeName(ev.Email)+".ndjson")
	if err := appendFile(path, line); err != nil {
		a.log.Warn("failed to write archive file", "path", path, "error", err)
	}
	if a.globalPath != "" {
		if err := appendFile(a.globalPath, line); err != nil {
			a.log.Warn("failed to write global archive", "error", err)
		}
	}
}

func appendFile(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(line)
	return err
}

var unsafeNamePattern = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

func sanitizeName(name string) string {
	if name == "" {
		return "anonymous"
	}
	return unsafeNamePattern.ReplaceAllString(name, "_")
}
