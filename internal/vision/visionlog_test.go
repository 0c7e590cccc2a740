package vision

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
)

func TestRecorderReaderRoundTrip(t *testing.T) {
	frames := []*DetectionFrame{
		{
			CameraID:    0,
			FrameNumber: 100,
			TimeNs:      1_000_000_000,
			Balls:       []Detection{{CameraID: 0, TimeNs: 1_000_000_000, Pos: r2.Point{X: 10, Y: 20}, Confidence: 0.9}},
		},
		{
			CameraID:    1,
			FrameNumber: 101,
			TimeNs:      1_010_000_000,
		},
	}

	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, "deadbeef", 999)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for _, f := range frames {
		if err := rec.Record(f); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rd, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	hdr := rd.Header()
	if hdr.Session != "deadbeef" || hdr.CreatedNs != 999 {
		t.Errorf("header = %+v", hdr)
	}

	for i, want := range frames {
		got, err := rd.Next()
		if err != nil {
			t.Fatalf("Next frame %d: %v", i, err)
		}
		if got.CameraID != want.CameraID || got.FrameNumber != want.FrameNumber || got.TimeNs != want.TimeNs {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
		if len(got.Balls) != len(want.Balls) {
			t.Errorf("frame %d has %d balls, want %d", i, len(got.Balls), len(want.Balls))
		}
	}
	if _, err := rd.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next after last frame = %v, want io.EOF", err)
	}
}

func TestReaderRejectsForeignFile(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"not json":      "hello world\n",
		"wrong type":    `{"type":"framelog","version":1}` + "\n",
		"wrong version": `{"type":"visionlog","version":99}` + "\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewReader(strings.NewReader(in)); err == nil {
				t.Error("NewReader succeeded, want error")
			}
		})
	}
}

func TestReaderToleratesBlankLines(t *testing.T) {
	in := `{"type":"visionlog","version":1,"session":"s","created_ns":1}` + "\n\n" +
		`{"camera_id":3,"frame_number":7,"time_ns":42}` + "\n\n"
	rd, err := NewReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	f, err := rd.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.CameraID != 3 || f.FrameNumber != 7 || f.TimeNs != 42 {
		t.Errorf("frame = %+v", f)
	}
	if _, err := rd.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next = %v, want io.EOF", err)
	}
}

func TestReaderReportsBadFrameLine(t *testing.T) {
	in := `{"type":"visionlog","version":1,"session":"s","created_ns":1}` + "\n" +
		`{"camera_id":` + "\n"
	rd, err := NewReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := rd.Next(); err == nil {
		t.Error("Next on malformed line succeeded, want error")
	}
}
