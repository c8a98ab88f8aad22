package recording

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Summary describes one stored recording.
type Summary struct {
	Meta
	Path string `json:"path"`
}

// Closed reports whether the recorder finished cleanly.
func (s Summary) Closed() bool {
	return s.ClosedAt != nil
}

// List returns the recordings under dir, newest first. A missing dir is
// an empty list.
func List(dir string) ([]Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list recordings: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}

		path := filepath.Join(dir, ent.Name())

		data, err := os.ReadFile(filepath.Join(path, metaFileName)) //nolint:gosec // entries of dir
		if err != nil {
			continue
		}

		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		summaries = append(summaries, Summary{Meta: meta, Path: path})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})

	return summaries, nil
}

// Read returns every event of recording id.
func Read(dir, id string) (events []Event, err error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(dir, id, eventsFileName)) //nolint:gosec // id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return readLive(dir, id)
		}

		return nil, fmt.Errorf("open recording events: %w", err)
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		// An unclosed recording has an empty or truncated gzip stream.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return readLive(dir, id)
		}

		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	events, err = scanEvents(zr)
	if err != nil && errors.Is(err, io.ErrUnexpectedEOF) {
		return readLive(dir, id)
	}

	return events, err
}

func readLive(dir, id string) ([]Event, error) {
	file, err := os.Open(filepath.Join(dir, id, eventsLiveFileName)) //nolint:gosec // id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Stat(filepath.Join(dir, id)); statErr != nil {
				return nil, fmt.Errorf("recording %s not found", id)
			}

			return nil, nil
		}

		return nil, fmt.Errorf("open live recording events: %w", err)
	}
	defer file.Close()

	return scanEvents(file)
}

func scanEvents(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var events []Event

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		events = append(events, ev)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan recording events: %w", err)
	}

	return events, nil
}

// ReadLiveFrom reads complete events appended to the live log after offset
// and returns the offset to resume from. A partially written trailing line
// is left for the next call.
func ReadLiveFrom(dir, id string, offset int64) (events []Event, next int64, err error) {
	if err := ValidateID(id); err != nil {
		return nil, offset, err
	}

	if offset < 0 {
		return nil, offset, errors.New("offset must be >= 0")
	}

	file, err := os.Open(filepath.Join(dir, id, eventsLiveFileName)) //nolint:gosec // id is validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, offset, nil
		}

		return nil, offset, fmt.Errorf("open live recording events: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat live recording: %w", err)
	}

	offset = min(offset, stat.Size())

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek live recording: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	next = offset

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			next += int64(len(line))

			var ev Event
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 && json.Unmarshal(trimmed, &ev) == nil {
				events = append(events, ev)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return events, next, nil
			}

			return events, next, fmt.Errorf("read live recording: %w", readErr)
		}
	}
}

// Prune removes recordings that finished, or started if never closed,
// before cutoff. It returns how many were removed.
func Prune(dir string, cutoff time.Time) (int, error) {
	summaries, err := List(dir)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, s := range summaries {
		ref := s.StartedAt
		if s.ClosedAt != nil {
			ref = *s.ClosedAt
		}

		if !ref.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(s.Path); err != nil {
			return removed, fmt.Errorf("prune recording %s: %w", s.ID, err)
		}

		removed++
	}

	return removed, nil
}
