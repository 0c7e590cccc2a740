package vision

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/smallsize-vision/balltrack/internal/world"
)

// SSL-Vision wire format. The vision server broadcasts SSL_WrapperPacket
// protobuf messages; rather than carrying generated bindings for a handful
// of fields we walk the wire format directly with protowire, skipping any
// field we do not model. Field numbers follow the published messages.proto.
const (
	wrapperDetection = 1 // SSL_DetectionFrame
	wrapperGeometry  = 2 // SSL_GeometryData

	detFrameNumber  = 1 // uint32
	detTimeCapture  = 2 // double, unix seconds
	detTimeSent     = 3 // double, unix seconds
	detCameraID     = 4 // uint32
	detBalls        = 5 // repeated SSL_DetectionBall
	detRobotsYellow = 6 // repeated SSL_DetectionRobot
	detRobotsBlue   = 7 // repeated SSL_DetectionRobot

	ballConfidence = 1 // float
	ballX          = 3 // float, mm
	ballY          = 4 // float, mm
	ballPixelX     = 6 // float
	ballPixelY     = 7 // float

	robotConfidence  = 1 // float
	robotID          = 2 // uint32
	robotX           = 3 // float, mm
	robotY           = 4 // float, mm
	robotOrientation = 5 // float, rad
	robotPixelX      = 6 // float
	robotPixelY      = 7 // float

	geomField = 1 // SSL_GeometryFieldSize

	fieldLength   = 1 // int32, mm
	fieldWidth    = 2 // int32, mm
	fieldBoundary = 5 // int32, mm
)

// DecodeWrapper parses one SSL_WrapperPacket datagram. Either return value
// may be nil when the packet carries only the other half; geometry packets
// are interleaved with detections at a low rate.
func DecodeWrapper(data []byte) (*DetectionFrame, *Geometry, error) {
	var frame *DetectionFrame
	var geom *Geometry

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, fmt.Errorf("wrapper: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == wrapperDetection && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, nil, fmt.Errorf("wrapper: detection field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			f, err := decodeDetectionFrame(body)
			if err != nil {
				return nil, nil, err
			}
			frame = f
		case num == wrapperGeometry && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, nil, fmt.Errorf("wrapper: geometry field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			g, err := decodeGeometry(body)
			if err != nil {
				return nil, nil, err
			}
			geom = g
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, nil, fmt.Errorf("wrapper: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return frame, geom, nil
}

func decodeDetectionFrame(data []byte) (*DetectionFrame, error) {
	f := &DetectionFrame{}

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("detection frame: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case detFrameNumber:
			v, n, err := consumeVarint(b, "frame_number")
			if err != nil {
				return nil, err
			}
			b = b[n:]
			f.FrameNumber = uint32(v)
		case detCameraID:
			v, n, err := consumeVarint(b, "camera_id")
			if err != nil {
				return nil, err
			}
			b = b[n:]
			f.CameraID = uint32(v)
		case detTimeCapture:
			v, n, err := consumeDouble(b, "t_capture")
			if err != nil {
				return nil, err
			}
			b = b[n:]
			f.TimeNs = secondsToNs(v)
		case detTimeSent:
			v, n, err := consumeDouble(b, "t_sent")
			if err != nil {
				return nil, err
			}
			b = b[n:]
			f.SentNs = secondsToNs(v)
		case detBalls:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("detection frame: balls: %w", protowire.ParseError(n))
			}
			b = b[n:]
			ball, err := decodeBall(body)
			if err != nil {
				return nil, err
			}
			f.Balls = append(f.Balls, ball)
		case detRobotsYellow, detRobotsBlue:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("detection frame: robots: %w", protowire.ParseError(n))
			}
			b = b[n:]
			team := world.TeamYellow
			if num == detRobotsBlue {
				team = world.TeamBlue
			}
			robot, err := decodeRobot(body, team)
			if err != nil {
				return nil, err
			}
			f.Robots = append(f.Robots, robot)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("detection frame: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	// Detections and robot observations share the frame capture time.
	for i := range f.Balls {
		f.Balls[i].CameraID = f.CameraID
		f.Balls[i].TimeNs = f.TimeNs
	}

	return f, nil
}

func decodeBall(data []byte) (Detection, error) {
	var d Detection

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, fmt.Errorf("ball: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case ballConfidence:
			v, n, err := consumeFloat(b, "ball confidence")
			if err != nil {
				return d, err
			}
			b = b[n:]
			d.Confidence = v
		case ballX:
			v, n, err := consumeFloat(b, "ball x")
			if err != nil {
				return d, err
			}
			b = b[n:]
			d.Pos.X = float64(v)
		case ballY:
			v, n, err := consumeFloat(b, "ball y")
			if err != nil {
				return d, err
			}
			b = b[n:]
			d.Pos.Y = float64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, fmt.Errorf("ball: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return d, nil
}

func decodeRobot(data []byte, team world.Team) (RobotObservation, error) {
	r := RobotObservation{ID: world.RobotID{Team: team}}

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("robot: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case robotConfidence:
			v, n, err := consumeFloat(b, "robot confidence")
			if err != nil {
				return r, err
			}
			b = b[n:]
			r.Confidence = v
		case robotID:
			v, n, err := consumeVarint(b, "robot_id")
			if err != nil {
				return r, err
			}
			b = b[n:]
			r.ID.Number = uint32(v)
		case robotX:
			v, n, err := consumeFloat(b, "robot x")
			if err != nil {
				return r, err
			}
			b = b[n:]
			r.Pos.X = float64(v)
		case robotY:
			v, n, err := consumeFloat(b, "robot y")
			if err != nil {
				return r, err
			}
			b = b[n:]
			r.Pos.Y = float64(v)
		case robotOrientation:
			v, n, err := consumeFloat(b, "robot orientation")
			if err != nil {
				return r, err
			}
			b = b[n:]
			r.Facing = float64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("robot: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return r, nil
}

func decodeGeometry(data []byte) (*Geometry, error) {
	g := &Geometry{}

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("geometry: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == geomField && typ == protowire.BytesType {
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("geometry: field size: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := decodeFieldSize(body, g); err != nil {
				return nil, err
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("geometry: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	return g, nil
}

func decodeFieldSize(data []byte, g *Geometry) error {
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("field size: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldLength:
			v, n, err := consumeVarint(b, "field_length")
			if err != nil {
				return err
			}
			b = b[n:]
			g.FieldLengthMM = float64(int32(v))
		case fieldWidth:
			v, n, err := consumeVarint(b, "field_width")
			if err != nil {
				return err
			}
			b = b[n:]
			g.FieldWidthMM = float64(int32(v))
		case fieldBoundary:
			v, n, err := consumeVarint(b, "boundary_width")
			if err != nil {
				return err
			}
			b = b[n:]
			g.BoundaryWidthMM = float64(int32(v))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("field size: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func consumeVarint(b []byte, what string) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%s: %w", what, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeFloat(b []byte, what string) (float32, int, error) {
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%s: %w", what, protowire.ParseError(n))
	}
	return math.Float32frombits(v), n, nil
}

func consumeDouble(b []byte, what string) (float64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%s: %w", what, protowire.ParseError(n))
	}
	return math.Float64frombits(v), n, nil
}

func secondsToNs(s float64) int64 {
	return int64(s * 1e9)
}

// EncodeWrapper builds an SSL_WrapperPacket datagram from a decoded frame
// and/or geometry, the inverse of DecodeWrapper. Used by the replay tools
// and tests; pixel coordinates, which we do not model, are filled from the
// field coordinates to satisfy the proto2 required fields.
func EncodeWrapper(frame *DetectionFrame, geom *Geometry) []byte {
	var out []byte
	if frame != nil {
		out = protowire.AppendTag(out, wrapperDetection, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeDetectionFrame(frame))
	}
	if geom != nil {
		out = protowire.AppendTag(out, wrapperGeometry, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeGeometry(geom))
	}
	return out
}

func encodeDetectionFrame(f *DetectionFrame) []byte {
	var out []byte
	out = protowire.AppendTag(out, detFrameNumber, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(f.FrameNumber))
	out = protowire.AppendTag(out, detTimeCapture, protowire.Fixed64Type)
	out = protowire.AppendFixed64(out, math.Float64bits(nsToSeconds(f.TimeNs)))
	out = protowire.AppendTag(out, detTimeSent, protowire.Fixed64Type)
	out = protowire.AppendFixed64(out, math.Float64bits(nsToSeconds(f.SentNs)))
	out = protowire.AppendTag(out, detCameraID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(f.CameraID))

	for i := range f.Balls {
		out = protowire.AppendTag(out, detBalls, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeBall(&f.Balls[i]))
	}
	for i := range f.Robots {
		num := protowire.Number(detRobotsYellow)
		if f.Robots[i].ID.Team == world.TeamBlue {
			num = detRobotsBlue
		}
		out = protowire.AppendTag(out, num, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeRobot(&f.Robots[i]))
	}
	return out
}

func encodeBall(d *Detection) []byte {
	var out []byte
	out = appendFloat(out, ballConfidence, d.Confidence)
	out = appendFloat(out, ballX, float32(d.Pos.X))
	out = appendFloat(out, ballY, float32(d.Pos.Y))
	out = appendFloat(out, ballPixelX, float32(d.Pos.X))
	out = appendFloat(out, ballPixelY, float32(d.Pos.Y))
	return out
}

func encodeRobot(r *RobotObservation) []byte {
	var out []byte
	out = appendFloat(out, robotConfidence, r.Confidence)
	out = protowire.AppendTag(out, robotID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(r.ID.Number))
	out = appendFloat(out, robotX, float32(r.Pos.X))
	out = appendFloat(out, robotY, float32(r.Pos.Y))
	out = appendFloat(out, robotOrientation, float32(r.Facing))
	out = appendFloat(out, robotPixelX, float32(r.Pos.X))
	out = appendFloat(out, robotPixelY, float32(r.Pos.Y))
	return out
}

func encodeGeometry(g *Geometry) []byte {
	var fieldSize []byte
	fieldSize = protowire.AppendTag(fieldSize, fieldLength, protowire.VarintType)
	fieldSize = protowire.AppendVarint(fieldSize, uint64(int32(g.FieldLengthMM)))
	fieldSize = protowire.AppendTag(fieldSize, fieldWidth, protowire.VarintType)
	fieldSize = protowire.AppendVarint(fieldSize, uint64(int32(g.FieldWidthMM)))
	fieldSize = protowire.AppendTag(fieldSize, fieldBoundary, protowire.VarintType)
	fieldSize = protowire.AppendVarint(fieldSize, uint64(int32(g.BoundaryWidthMM)))

	var out []byte
	out = protowire.AppendTag(out, geomField, protowire.BytesType)
	out = protowire.AppendBytes(out, fieldSize)
	return out
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func nsToSeconds(ns int64) float64 {
	return float64(ns) / 1e9
}
