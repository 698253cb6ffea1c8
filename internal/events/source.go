package events

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source is an iterator over the simulation event feed. Next returns io.EOF
// once the feed is exhausted.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

const maxLineBytes = 1 << 20

// DecoderSource reads one JSON event per line.
type DecoderSource struct {
	scanner *bufio.Scanner
	closers []io.Closer
	line    int
}

// NewDecoderSource reads newline-delimited JSON events from r.
func NewDecoderSource(r io.Reader) *DecoderSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &DecoderSource{scanner: sc}
}

// OpenFile opens a JSONL event file. "-" reads stdin; a ".gz" suffix is
// decompressed on the fly.
func OpenFile(path string) (*DecoderSource, error) {
	if path == "-" {
		return NewDecoderSource(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		src := NewDecoderSource(f)
		src.closers = []io.Closer{f}
		return src, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip events file: %w", err)
	}
	src := NewDecoderSource(zr)
	src.closers = []io.Closer{zr, f}
	return src, nil
}

func (s *DecoderSource) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Event{}, fmt.Errorf("read events line %d: %w", s.line+1, err)
			}
			return Event{}, io.EOF
		}
		s.line++
		b := bytes.TrimSpace(s.scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return Event{}, fmt.Errorf("decode events line %d: %w", s.line, err)
		}
		if err := ev.Validate(); err != nil {
			return Event{}, fmt.Errorf("events line %d: %w", s.line, err)
		}
		return ev, nil
	}
}

func (s *DecoderSource) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SliceSource replays a fixed list of events.
type SliceSource struct {
	events []Event
	pos    int
}

func NewSliceSource(evs ...Event) *SliceSource {
	return &SliceSource{events: evs}
}

func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *SliceSource) Close() error { return nil }
