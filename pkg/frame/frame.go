// Package frame implements the fixed-size, NUL-padded ASCII wire framing
// shared by every sensor stream, plus the same-frame duplicate-detection
// counter used on both the producer and consumer sides of a connection.
package frame

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/sensorfab/relay/pkg/sensor"
)

// Frame is a fixed-size NUL-padded buffer as transmitted on the wire. There
// is no length prefix or delimiter; the frame size is implied by the
// sensor (see sensor.Meta.FrameSize).
type Frame []byte

// New allocates a zeroed frame of the given size.
func New(size int) Frame {
	return make(Frame, size)
}

// Locked reports whether this frame's first byte is NUL, the "device is
// locked / no data" marker (invariant I4). A locked frame is dropped without
// closing the connection and does not count toward the same-frame counter.
func (f Frame) Locked() bool {
	return len(f) == 0 || f[0] == 0
}

// Equal reports whether two frames have identical contents.
func (f Frame) Equal(o Frame) bool {
	return bytes.Equal(f, o)
}

// Fields splits the frame on the first NUL byte and then on '|', trimming
// the NUL padding before parsing.
func (f Frame) Fields() []string {
	b := f
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return nil
	}
	return strings.Split(string(b), "|")
}

// EncodeVec3 formats a 3-component frame as "%<precision>|%<precision>|%<precision>"
// NUL-padded to size.
func EncodeVec3(size int, precision string, x, y, z float64) (Frame, error) {
	return encode(size, fmt.Sprintf(precision+"|"+precision+"|"+precision, x, y, z))
}

// EncodeVec3Status formats an orientation frame: three floats (always %f
// regardless of sensor precision, per the original ForOrientationSensor.cpp
// bridge) plus a clamped integer status.
func EncodeVec3Status(size int, x, y, z float64, status int) (Frame, error) {
	return encode(size, fmt.Sprintf("%f|%f|%f|%d", x, y, z, sensor.ClampStatus(status)))
}

// EncodeVec4 formats a rotation-vector frame: four floats joined by '|'.
func EncodeVec4(size int, precision string, x, y, z, w float64) (Frame, error) {
	return encode(size, fmt.Sprintf(precision+"|"+precision+"|"+precision+"|"+precision, x, y, z, w))
}

// EncodeScalar formats a single-value frame (Light, Proximity).
func EncodeScalar(size int, precision string, v float64) (Frame, error) {
	return encode(size, fmt.Sprintf(precision, v))
}

func encode(size int, body string) (Frame, error) {
	if len(body) > size {
		return nil, fmt.Errorf("frame: formatted body %d bytes exceeds frame size %d", len(body), size)
	}
	f := New(size)
	copy(f, body)
	return f, nil
}

// ParseVec3 parses a Magnetic/Gyroscope/Gravity/... style frame into three
// floats.
func ParseVec3(f Frame) (x, y, z float64, err error) {
	p := f.Fields()
	if len(p) != 3 {
		return 0, 0, 0, fmt.Errorf("frame: expected 3 fields, got %d", len(p))
	}
	if x, err = strconv.ParseFloat(p[0], 64); err != nil {
		return 0, 0, 0, fmt.Errorf("frame: parse x: %w", err)
	}
	if y, err = strconv.ParseFloat(p[1], 64); err != nil {
		return 0, 0, 0, fmt.Errorf("frame: parse y: %w", err)
	}
	if z, err = strconv.ParseFloat(p[2], 64); err != nil {
		return 0, 0, 0, fmt.Errorf("frame: parse z: %w", err)
	}
	return
}

// ParseVec3Status parses an Orientation frame: azimuth, pitch, roll, status.
func ParseVec3Status(f Frame) (x, y, z float64, status int, err error) {
	p := f.Fields()
	if len(p) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("frame: expected 4 fields, got %d", len(p))
	}
	if x, err = strconv.ParseFloat(p[0], 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("frame: parse azimuth: %w", err)
	}
	if y, err = strconv.ParseFloat(p[1], 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("frame: parse pitch: %w", err)
	}
	if z, err = strconv.ParseFloat(p[2], 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("frame: parse roll: %w", err)
	}
	var s int64
	if s, err = strconv.ParseInt(p[3], 10, 64); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("frame: parse status: %w", err)
	}
	status = sensor.ClampStatus(int(s))
	return
}

// ParseVec4 parses a RotationVector frame into four floats.
func ParseVec4(f Frame) (x, y, z, w float64, err error) {
	p := f.Fields()
	if len(p) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("frame: expected 4 fields, got %d", len(p))
	}
	vals := make([]float64, 4)
	for i, s := range p {
		if vals[i], err = strconv.ParseFloat(s, 64); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("frame: parse field %d: %w", i, err)
		}
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

// ParseScalar parses a Light/Proximity style single-value frame.
func ParseScalar(f Frame) (v float64, err error) {
	p := f.Fields()
	if len(p) != 1 {
		return 0, fmt.Errorf("frame: expected 1 field, got %d", len(p))
	}
	if v, err = strconv.ParseFloat(p[0], 64); err != nil {
		return 0, fmt.Errorf("frame: parse value: %w", err)
	}
	return
}

// ParseReading parses a frame according to m's arity into a sensor.Reading,
// leaving Timestamp unset (the caller assigns it at ingest time, per
// invariant I5).
func ParseReading(m sensor.Meta, f Frame) (sensor.Reading, error) {
	var r sensor.Reading
	r.Sensor = m.ID
	switch m.Arity {
	case sensor.Scalar:
		v, err := ParseScalar(f)
		if err != nil {
			return r, err
		}
		r.Values[0] = v
	case sensor.Vec3:
		x, y, z, err := ParseVec3(f)
		if err != nil {
			return r, err
		}
		r.Values[0], r.Values[1], r.Values[2] = x, y, z
	case sensor.Vec3Status:
		x, y, z, status, err := ParseVec3Status(f)
		if err != nil {
			return r, err
		}
		r.Values[0], r.Values[1], r.Values[2] = x, y, z
		r.Status = status
	case sensor.Vec4:
		x, y, z, w, err := ParseVec4(f)
		if err != nil {
			return r, err
		}
		r.Values[0], r.Values[1], r.Values[2], r.Values[3] = x, y, z, w
	default:
		return r, fmt.Errorf("frame: unhandled arity %v", m.Arity)
	}
	return r, nil
}

// Tolerance tracks consecutive identical frames on one connection and
// reports when invariant I3's threshold (sensor.MaxSame) is reached.
type Tolerance struct {
	last  Frame
	count int
}

// Observe records f and reports whether this connection has now seen the
// same frame sensor.MaxSame times in a row and should be torn down. Locked
// frames (see Frame.Locked) must not be passed here — they are dropped by
// the caller before reaching the tolerance counter (invariant I5).
func (t *Tolerance) Observe(f Frame) (exceeded bool) {
	if t.last != nil && t.last.Equal(f) {
		t.count++
	} else {
		t.count = 1
		t.last = append(Frame(nil), f...)
	}
	return t.count >= sensor.MaxSame
}

// Reset clears the tolerance counter, used when a connection is re-accepted.
func (t *Tolerance) Reset() {
	t.last = nil
	t.count = 0
}
