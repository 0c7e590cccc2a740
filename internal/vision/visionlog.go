package vision

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Vision logs are JSONL: a single header line identifying the file, then
// one detection frame per line in capture order. The format is meant for
// replay and offline tuning runs, not archival; bump LogVersion when a
// field changes meaning.
const (
	LogType    = "visionlog"
	LogVersion = 1
)

// Header is the first line of a vision log.
type Header struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Session   string `json:"session"`
	CreatedNs int64  `json:"created_ns"`
}

// Recorder appends detection frames to a vision log stream.
type Recorder struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

// NewRecorder writes the log header and returns a recorder for the stream.
func NewRecorder(w io.Writer, session string, createdNs int64) (*Recorder, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	hdr := Header{Type: LogType, Version: LogVersion, Session: session, CreatedNs: createdNs}
	if err := enc.Encode(hdr); err != nil {
		return nil, fmt.Errorf("visionlog: write header: %w", err)
	}
	return &Recorder{bw: bw, enc: enc}, nil
}

// Record appends one frame to the log.
func (r *Recorder) Record(f *DetectionFrame) error {
	if err := r.enc.Encode(f); err != nil {
		return fmt.Errorf("visionlog: write frame: %w", err)
	}
	return nil
}

// Flush pushes buffered frames to the underlying writer. Call before
// closing the file.
func (r *Recorder) Flush() error {
	return r.bw.Flush()
}

// Reader iterates the frames of a vision log.
type Reader struct {
	sc     *bufio.Scanner
	header Header
	line   int
}

// NewReader validates the log header and positions the reader at the
// first frame.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("visionlog: read header: %w", err)
		}
		return nil, errors.New("visionlog: empty file")
	}
	var hdr Header
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		return nil, fmt.Errorf("visionlog: parse header: %w", err)
	}
	if hdr.Type != LogType {
		return nil, fmt.Errorf("visionlog: not a vision log (type %q)", hdr.Type)
	}
	if hdr.Version != LogVersion {
		return nil, fmt.Errorf("visionlog: unsupported version %d", hdr.Version)
	}

	return &Reader{sc: sc, header: hdr, line: 1}, nil
}

// Header returns the log header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next frame, or io.EOF after the last one. Blank lines
// are tolerated so logs survive hand editing.
func (r *Reader) Next() (*DetectionFrame, error) {
	for r.sc.Scan() {
		r.line++
		b := r.sc.Bytes()
		if len(b) == 0 {
			continue
		}
		f := &DetectionFrame{}
		if err := json.Unmarshal(b, f); err != nil {
			return nil, fmt.Errorf("visionlog: line %d: %w", r.line, err)
		}
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("visionlog: read: %w", err)
	}
	return nil, io.EOF
}
