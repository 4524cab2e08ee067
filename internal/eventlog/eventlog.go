package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"council/internal/council"
)

const (
	logFileExt      = ".jsonl"
	maxJSONLineSize = 1024 * 1024
)

var (
	ErrLogDirRequired        = errors.New("event log directory is required")
	ErrConversationIDInvalid = errors.New("invalid conversation id")
	ErrLogNotFound           = errors.New("event log not found")
)

// Record is one append-only line in a conversation's event log: the
// raw stream event plus the time it arrived.
type Record struct {
	TS    int64           `json:"ts"`
	Event json.RawMessage `json:"event"`
}

// LogInfo describes one event log file on disk.
type LogInfo struct {
	ConversationID string
	Path           string
	UpdatedAt      time.Time
	SizeBytes      int64
}

// Store persists the stream events of each conversation as an
// append-only JSONL file, one file per conversation. Logs exist for
// offline replay and postmortems; the live client never reads them.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore constructs a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrLogDirRequired
	}
	return &Store{dir: root}, nil
}

// Append records one stream event for a conversation.
func (s *Store) Append(ctx context.Context, conversationID string, ev council.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.logPath(conversationID)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	raw, err := json.Marshal(Record{TS: time.Now().Unix(), Event: encoded})
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create event log dir %s: %w", s.dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append event log record: %w", err)
	}
	return nil
}

// Load reads all logged events for a conversation in arrival order.
func (s *Store) Load(ctx context.Context, conversationID string) ([]council.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.logPath(conversationID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, strings.TrimSpace(conversationID))
		}
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLineSize)

	events := make([]council.Event, 0, 64)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("decode event log line %d: %w", lineNum, err)
		}
		ev, err := council.ParseEvent(record.Event)
		if err != nil {
			return nil, fmt.Errorf("decode event log line %d: %w", lineNum, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("event log line too large (> %d bytes): %w", maxJSONLineSize, err)
		}
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		return nil, fmt.Errorf("scan event log: %w", err)
	}

	return events, nil
}

// List returns known event logs sorted by newest first.
func (s *Store) List(ctx context.Context) ([]LogInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log dir %s: %w", s.dir, err)
	}

	out := make([]LogInfo, 0, len(items))
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != logFileExt {
			continue
		}

		info, err := item.Info()
		if err != nil {
			return nil, fmt.Errorf("read event log info %s: %w", item.Name(), err)
		}

		out = append(out, LogInfo{
			ConversationID: strings.TrimSuffix(item.Name(), logFileExt),
			Path:           filepath.Join(s.dir, item.Name()),
			UpdatedAt:      info.ModTime(),
			SizeBytes:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ConversationID > out[j].ConversationID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Replay folds logged events over a base snapshot. Replaying the same
// log twice produces identical snapshots.
func Replay(base *council.Conversation, events []council.Event) *council.Conversation {
	conv := base
	for _, ev := range events {
		conv, _ = council.Reduce(conv, ev)
	}
	return conv
}

func (s *Store) logPath(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrConversationIDInvalid)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %s", ErrConversationIDInvalid, id)
	}
	return filepath.Join(s.dir, id+logFileExt), nil
}
