package vision

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/smallsize-vision/balltrack/internal/world"
)

func TestDecodeWrapperDetection(t *testing.T) {
	in := &DetectionFrame{
		CameraID:    2,
		FrameNumber: 4711,
		TimeNs:      1_500_000_000_000,
		SentNs:      1_500_000_250_000,
		Balls: []Detection{
			{Pos: r2.Point{X: 120.5, Y: -340.25}, Confidence: 0.92},
		},
		Robots: []RobotObservation{
			{ID: world.RobotID{Team: world.TeamYellow, Number: 3}, Pos: r2.Point{X: 500, Y: 250}, Facing: 1.5, Confidence: 0.88},
			{ID: world.RobotID{Team: world.TeamBlue, Number: 7}, Pos: r2.Point{X: -1000, Y: 0}, Facing: -0.5, Confidence: 0.97},
		},
	}

	frame, geom, err := DecodeWrapper(EncodeWrapper(in, nil))
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if geom != nil {
		t.Errorf("expected nil geometry, got %+v", geom)
	}
	if frame == nil {
		t.Fatal("expected detection frame, got nil")
	}

	if frame.CameraID != 2 || frame.FrameNumber != 4711 {
		t.Errorf("frame identity = camera %d frame %d, want camera 2 frame 4711", frame.CameraID, frame.FrameNumber)
	}
	if frame.TimeNs != in.TimeNs {
		t.Errorf("TimeNs = %d, want %d", frame.TimeNs, in.TimeNs)
	}
	if frame.SentNs != in.SentNs {
		t.Errorf("SentNs = %d, want %d", frame.SentNs, in.SentNs)
	}

	if len(frame.Balls) != 1 {
		t.Fatalf("got %d balls, want 1", len(frame.Balls))
	}
	ball := frame.Balls[0]
	if !floatNear(ball.Pos.X, 120.5) || !floatNear(ball.Pos.Y, -340.25) {
		t.Errorf("ball position = %v", ball.Pos)
	}
	if ball.CameraID != frame.CameraID || ball.TimeNs != frame.TimeNs {
		t.Errorf("ball not stamped with frame identity: camera %d time %d", ball.CameraID, ball.TimeNs)
	}

	if len(frame.Robots) != 2 {
		t.Fatalf("got %d robots, want 2", len(frame.Robots))
	}
	yellow, blue := frame.Robots[0], frame.Robots[1]
	if yellow.ID != (world.RobotID{Team: world.TeamYellow, Number: 3}) {
		t.Errorf("yellow robot id = %v", yellow.ID)
	}
	if blue.ID != (world.RobotID{Team: world.TeamBlue, Number: 7}) {
		t.Errorf("blue robot id = %v", blue.ID)
	}
	if !floatNear(yellow.Facing, 1.5) || !floatNear(blue.Facing, -0.5) {
		t.Errorf("robot facings = %v, %v", yellow.Facing, blue.Facing)
	}
}

func TestDecodeWrapperGeometry(t *testing.T) {
	in := &Geometry{FieldLengthMM: 9000, FieldWidthMM: 6000, BoundaryWidthMM: 300}

	frame, geom, err := DecodeWrapper(EncodeWrapper(nil, in))
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil frame, got %+v", frame)
	}
	if geom == nil {
		t.Fatal("expected geometry, got nil")
	}
	if geom.FieldLengthMM != 9000 || geom.FieldWidthMM != 6000 || geom.BoundaryWidthMM != 300 {
		t.Errorf("geometry = %+v", geom)
	}
}

func TestDecodeWrapperTimestampConversion(t *testing.T) {
	// t_capture rides the wire as unix seconds in a double.
	var body []byte
	body = protowire.AppendTag(body, detFrameNumber, protowire.VarintType)
	body = protowire.AppendVarint(body, 1)
	body = protowire.AppendTag(body, detTimeCapture, protowire.Fixed64Type)
	body = protowire.AppendFixed64(body, math.Float64bits(1234.5))
	body = protowire.AppendTag(body, detCameraID, protowire.VarintType)
	body = protowire.AppendVarint(body, 0)

	var pkt []byte
	pkt = protowire.AppendTag(pkt, wrapperDetection, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, body)

	frame, _, err := DecodeWrapper(pkt)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if frame.TimeNs != 1_234_500_000_000 {
		t.Errorf("TimeNs = %d, want 1234500000000", frame.TimeNs)
	}
}

func TestDecodeWrapperSkipsUnknownFields(t *testing.T) {
	// A real vision server sends fields we do not model: ball area and z,
	// pixel coordinates, camera calibrations. The decoder must step over
	// them without losing the fields it does care about.
	var ball []byte
	ball = protowire.AppendTag(ball, ballConfidence, protowire.Fixed32Type)
	ball = protowire.AppendFixed32(ball, math.Float32bits(0.9))
	ball = protowire.AppendTag(ball, 2, protowire.VarintType) // area
	ball = protowire.AppendVarint(ball, 40)
	ball = protowire.AppendTag(ball, ballX, protowire.Fixed32Type)
	ball = protowire.AppendFixed32(ball, math.Float32bits(77))
	ball = protowire.AppendTag(ball, ballY, protowire.Fixed32Type)
	ball = protowire.AppendFixed32(ball, math.Float32bits(-33))
	ball = protowire.AppendTag(ball, 5, protowire.Fixed32Type) // z
	ball = protowire.AppendFixed32(ball, math.Float32bits(21.5))

	var body []byte
	body = protowire.AppendTag(body, detFrameNumber, protowire.VarintType)
	body = protowire.AppendVarint(body, 9)
	body = protowire.AppendTag(body, detCameraID, protowire.VarintType)
	body = protowire.AppendVarint(body, 1)
	body = protowire.AppendTag(body, detBalls, protowire.BytesType)
	body = protowire.AppendBytes(body, ball)

	var pkt []byte
	pkt = protowire.AppendTag(pkt, wrapperDetection, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, body)
	pkt = protowire.AppendTag(pkt, 3, protowire.BytesType) // future wrapper extension
	pkt = protowire.AppendBytes(pkt, []byte{0x08, 0x01})

	frame, _, err := DecodeWrapper(pkt)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if len(frame.Balls) != 1 {
		t.Fatalf("got %d balls, want 1", len(frame.Balls))
	}
	if !floatNear(frame.Balls[0].Pos.X, 77) || !floatNear(frame.Balls[0].Pos.Y, -33) {
		t.Errorf("ball position = %v", frame.Balls[0].Pos)
	}
}

func TestDecodeWrapperTruncated(t *testing.T) {
	pkt := EncodeWrapper(&DetectionFrame{CameraID: 1, FrameNumber: 2}, nil)
	for _, cut := range []int{1, len(pkt) / 2, len(pkt) - 1} {
		if _, _, err := DecodeWrapper(pkt[:cut]); err == nil {
			t.Errorf("DecodeWrapper(pkt[:%d]) succeeded, want error", cut)
		}
	}
}

func floatNear(got, want float64) bool {
	return math.Abs(got-want) < 1e-6
}
