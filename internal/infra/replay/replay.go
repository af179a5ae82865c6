// Package replay writes and reads compressed run logs: one JSON line per
// event, zstd-compressed, preceded by a header line describing the run.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/coasim/coasim/internal/events"
)

// Extension is the file suffix for replay logs.
const Extension = ".jsonl.zst"

var (
	ErrClosed    = errors.New("replay: writer closed")
	ErrNoHeader  = errors.New("replay: missing header line")
	ErrBadRecord = errors.New("replay: bad record")
)

// Header describes the run a log belongs to.
type Header struct {
	RunID     string    `json:"run_id"`
	Scenario  string    `json:"scenario"`
	Map       string    `json:"map"` // Initial terrain
	StartedAt time.Time `json:"started_at"`
}

type record struct {
	Header *Header          `json:"header,omitempty"`
	Event  *events.SimEvent `json:"event,omitempty"`
}

// Writer appends events to a log file. It implements events.EventPersister.
type Writer struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// Create opens a new log at path, truncating any previous file, and writes
// the header.
func Create(path string, hdr Header) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &Writer{path: path, f: f, enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}
	if hdr.StartedAt.IsZero() {
		hdr.StartedAt = time.Now().UTC()
	}
	if err := w.write(record{Header: &hdr}); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string { return w.path }

// Append implements events.EventPersister.
func (w *Writer) Append(e events.SimEvent) error {
	return w.write(record{Event: &e})
}

func (w *Writer) write(r record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return ErrClosed
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes the compressor and closes the file. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err1 error
	if w.w != nil {
		err1 = w.w.Flush()
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	return err1
}

// Reader decodes a log sequentially.
type Reader struct {
	Header Header

	f   io.Closer
	dec *zstd.Decoder
	sc  *bufio.Scanner
	n   int
}

// Open opens a log and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	r.f = f
	return r, nil
}

// NewReader reads a log from src. The caller closes src.
func NewReader(src io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	r := &Reader{dec: dec, sc: sc}
	rec, err := r.next()
	if err == io.EOF || (err == nil && rec.Header == nil) {
		dec.Close()
		return nil, ErrNoHeader
	}
	if err != nil {
		dec.Close()
		return nil, err
	}
	r.Header = *rec.Header
	return r, nil
}

func (r *Reader) next() (record, error) {
	var rec record
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return rec, err
		}
		return rec, io.EOF
	}
	r.n++
	if err := json.Unmarshal(r.sc.Bytes(), &rec); err != nil {
		return rec, fmt.Errorf("line %d: %w: %v", r.n, ErrBadRecord, err)
	}
	return rec, nil
}

// Next returns the next event, or io.EOF at the end of the log.
func (r *Reader) Next() (events.SimEvent, error) {
	rec, err := r.next()
	if err != nil {
		return events.SimEvent{}, err
	}
	if rec.Event == nil {
		return events.SimEvent{}, fmt.Errorf("line %d: %w: no event", r.n, ErrBadRecord)
	}
	return *rec.Event, nil
}

// Close releases the decoder and the file, if Open created it.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}

// ReadAll loads a whole log.
func ReadAll(path string) (Header, []events.SimEvent, error) {
	r, err := Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer r.Close()

	var evs []events.SimEvent
	for {
		e, err := r.Next()
		if err == io.EOF {
			return r.Header, evs, nil
		}
		if err != nil {
			return r.Header, evs, err
		}
		evs = append(evs, e)
	}
}
