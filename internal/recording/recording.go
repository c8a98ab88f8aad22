// Package recording persists live channel sessions so they can be replayed
// with `garden history`.
//
// Each recording is a directory holding meta.json, an append-only
// events.live.jsonl that is flushed per event, and events.jsonl.gz which is
// complete once the recorder closes. Readers prefer the compressed log and
// fall back to the live file for recordings that never closed.
package recording

import (
	"bufio"
	"compress/gzip"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRetention is how long recordings are kept by `history prune`.
	DefaultRetention = 30 * 24 * time.Hour

	eventsFileName     = "events.jsonl.gz"
	eventsLiveFileName = "events.live.jsonl"
	metaFileName       = "meta.json"
)

// Event kinds.
const (
	KindConnect       = "connect"
	KindDisconnect    = "disconnect"
	KindAgentStatus   = "agent_status"
	KindProcessUpdate = "process_update"
	KindCrisisAlert   = "crisis_alert"
	KindCrisisState   = "crisis_state"
	KindMessage       = "message"
)

// Event is one recorded live channel event.
type Event struct {
	Seq  uint64          `json:"seq"`
	TS   time.Time       `json:"ts"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Meta describes a recording for listing and pruning.
type Meta struct {
	ID        string     `json:"id"`
	URL       string     `json:"url,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Options controls a Recorder.
type Options struct {
	// ID names the recording directory. NewID is used when empty.
	ID  string
	Dir string
	// URL is the live channel endpoint being recorded.
	URL string
	Now func() time.Time
}

// Recorder appends events to one recording. It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	meta Meta
	dir  string
	now  func() time.Time
	seq  uint64

	file     *os.File
	gz       *gzip.Writer
	bw       *bufio.Writer
	liveFile *os.File
	liveBW   *bufio.Writer

	closed bool
}

// NewID returns a sortable recording id such as 20261018-142501-9f3a1c2e.
func NewID(now time.Time) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])

	return now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(suffix[:])
}

// NewRecorder creates the recording directory and writes its metadata.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Dir == "" {
		return nil, errors.New("recording dir is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	id := opts.ID
	if id == "" {
		id = NewID(now())
	}

	if err := ValidateID(id); err != nil {
		return nil, err
	}

	dir := filepath.Join(opts.Dir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, eventsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // id is validated
	if err != nil {
		return nil, fmt.Errorf("open recording events: %w", err)
	}

	liveFile, err := os.OpenFile(filepath.Join(dir, eventsLiveFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // id is validated
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open live recording events: %w", err)
	}

	gz := gzip.NewWriter(f)

	r := &Recorder{
		meta:     Meta{ID: id, URL: opts.URL, StartedAt: now().UTC()},
		dir:      dir,
		now:      now,
		file:     f,
		gz:       gz,
		bw:       bufio.NewWriterSize(gz, 64*1024),
		liveFile: liveFile,
		liveBW:   bufio.NewWriterSize(liveFile, 16*1024),
	}

	if err := r.writeMeta(); err != nil {
		_ = r.Close()
		return nil, err
	}

	return r, nil
}

// ID returns the recording id.
func (r *Recorder) ID() string {
	return r.meta.ID
}

// Dir returns the recording directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Append records one event. data is marshaled to JSON unless it is already
// a json.RawMessage; nil data records no payload.
func (r *Recorder) Append(kind string, data any) error {
	var payload json.RawMessage

	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		payload = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", kind, err)
		}

		payload = encoded
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("recording is closed")
	}

	r.seq++

	line, err := json.Marshal(Event{Seq: r.seq, TS: r.now().UTC(), Kind: kind, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal recording event: %w", err)
	}

	line = append(line, '\n')

	if _, err := r.bw.Write(line); err != nil {
		return fmt.Errorf("write recording event: %w", err)
	}

	if _, err := r.liveBW.Write(line); err != nil {
		return fmt.Errorf("write live recording event: %w", err)
	}

	if err := r.liveBW.Flush(); err != nil {
		return fmt.Errorf("flush live recording event: %w", err)
	}

	return nil
}

// Close stamps the close time and flushes both logs.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	closedAt := r.now().UTC()
	r.meta.ClosedAt = &closedAt

	errs := []error{r.writeMeta()}

	if r.bw != nil {
		errs = append(errs, r.bw.Flush())
	}

	if r.gz != nil {
		errs = append(errs, r.gz.Close())
	}

	if r.file != nil {
		errs = append(errs, r.file.Close())
	}

	if r.liveBW != nil {
		errs = append(errs, r.liveBW.Flush())
	}

	if r.liveFile != nil {
		errs = append(errs, r.liveFile.Close())
	}

	return errors.Join(errs...)
}

func (r *Recorder) writeMeta() error {
	data, err := json.Marshal(r.meta)
	if err != nil {
		return fmt.Errorf("marshal recording meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(r.dir, metaFileName), data, 0o600); err != nil {
		return fmt.Errorf("write recording meta: %w", err)
	}

	return nil
}

// ValidateID rejects ids that would escape the recordings directory.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("recording id is required")
	}

	if id != filepath.Base(id) || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid recording id %q", id)
	}

	return nil
}
