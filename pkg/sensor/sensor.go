// Package sensor defines the fixed set of sensor streams carried by the
// telemetry relay fabric, their wire shapes, and their per-sensor timing and
// formatting metadata.
package sensor

import "time"

// ID identifies one of the ten sensor streams. The numeric value doubles as
// the TCP port offset for both the consumer ingress range (5000+ID) and the
// synthetic producer range (5010+ID).
type ID int

const (
	Accelerometer ID = iota
	Magnetic
	Light
	Proximity
	Gyroscope
	Orientation
	CorrectedGyroscope
	Gravity
	LinearAcceleration
	RotationVector

	NumSensors = int(RotationVector) + 1
)

func (id ID) String() string {
	if int(id) < 0 || int(id) >= len(names) {
		return "unknown"
	}
	return names[id]
}

var names = [NumSensors]string{
	Accelerometer:      "accelerometer",
	Magnetic:           "magnetic",
	Light:              "light",
	Proximity:          "proximity",
	Gyroscope:          "gyroscope",
	Orientation:        "orientation",
	CorrectedGyroscope: "corrected_gyroscope",
	Gravity:            "gravity",
	LinearAcceleration: "linear_acceleration",
	RotationVector:     "rotation_vector",
}

// Arity describes the shape of a sensor's reading.
type Arity int

const (
	Scalar        Arity = iota // one float
	Vec3                       // three floats
	Vec3Status                 // three floats + status in [0,3]
	Vec4                       // four floats
)

// Meta describes the fixed, compile-time properties of one sensor stream.
type Meta struct {
	ID ID

	// PortOffset is added to the consumer (5000) and producer (5010) base
	// ports to get this sensor's TCP port on each side.
	PortOffset int

	Arity Arity

	// FrameSize is the fixed NUL-padded wire frame size in bytes: 50 for
	// Accelerometer/Gyroscope, 100 for everything else.
	FrameSize int

	// Precision selects the printf-style verb used when formatting floats:
	// "%.9f" for Accelerometer/Gyroscope, "%f" otherwise.
	Precision string

	// MinDelay is the minimum spacing between two readings on this sensor's
	// producer/aggregator write loop. Values come from the per-sensor HAL
	// bridges in the original implementation (ForOrientationSensor.cpp,
	// ForAkmSensor.cpp, ForGyroSensor.cpp, ForProximitySensor.cpp,
	// ForLinearAccelerationSensor.cpp, ForRotationVectorSensor.cpp), not a
	// single shared constant: every bridge but Orientation's throttles to
	// 1ns, Orientation alone to 100ns. Sensors with no dedicated HAL bridge
	// in the original source (Accelerometer, Light, CorrectedGyroscope,
	// Gravity) inherit the common 1ns rate.
	MinDelay time.Duration

	// Batched is true for sensors whose consumer-side ingest transmits 40
	// concatenated frames per logical message (Accelerometer, Gyroscope).
	Batched bool

	// AxisBound is the per-axis magnitude bound used by the synthetic
	// producer's value generator (see pkg/producer's generate and axis).
	AxisBound int
}

// Table is indexed by ID and holds every sensor's fixed metadata.
var Table = [NumSensors]Meta{
	Accelerometer: {
		ID: Accelerometer, PortOffset: int(Accelerometer), Arity: Vec3,
		FrameSize: 50, Precision: "%.9f", MinDelay: time.Nanosecond,
		Batched: true, AxisBound: 3,
	},
	Magnetic: {
		ID: Magnetic, PortOffset: int(Magnetic), Arity: Vec3,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond, // ForAkmSensor.cpp:280
		AxisBound: 300,
	},
	Light: {
		ID: Light, PortOffset: int(Light), Arity: Scalar,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond,
		AxisBound: 200,
	},
	Proximity: {
		ID: Proximity, PortOffset: int(Proximity), Arity: Scalar,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond, // ForProximitySensor.cpp:178
		AxisBound: 5,
	},
	Gyroscope: {
		ID: Gyroscope, PortOffset: int(Gyroscope), Arity: Vec3,
		FrameSize: 50, Precision: "%.9f", MinDelay: time.Nanosecond, // ForGyroSensor.cpp:178
		Batched: true, AxisBound: 10,
	},
	Orientation: {
		ID: Orientation, PortOffset: int(Orientation), Arity: Vec3Status,
		FrameSize: 100, Precision: "%f", MinDelay: 100 * time.Nanosecond, // ForOrientationSensor.cpp:199
		AxisBound: 10,
	},
	CorrectedGyroscope: {
		ID: CorrectedGyroscope, PortOffset: int(CorrectedGyroscope), Arity: Vec3,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond,
		AxisBound: 20,
	},
	Gravity: {
		ID: Gravity, PortOffset: int(Gravity), Arity: Vec3,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond,
		AxisBound: 10,
	},
	LinearAcceleration: {
		ID: LinearAcceleration, PortOffset: int(LinearAcceleration), Arity: Vec3,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond, // ForLinearAccelerationSensor.cpp:179
		AxisBound: 10,
	},
	RotationVector: {
		ID: RotationVector, PortOffset: int(RotationVector), Arity: Vec4,
		FrameSize: 100, Precision: "%f", MinDelay: time.Nanosecond, // ForRotationVectorSensor.cpp:180
		AxisBound: 20,
	},
}

// GravityConstant is the scale factor applied to every generated/aggregated
// axis value (m/s^2 per original source unit), following the original
// emulator's use of standard gravity as its quantization step.
const GravityConstant = 9.80665

// ConsumerPort returns the ingress TCP port this sensor is served on by the
// in-guest consumer (5000+offset).
func (m Meta) ConsumerPort() int { return 5000 + m.PortOffset }

// ProducerPort returns the TCP port the synthetic producer listens on
// (5010+offset).
func (m Meta) ProducerPort() int { return 5010 + m.PortOffset }

// MaxSame is the number of identical consecutive frames on one connection
// that invalidates it (invariant I3), applied uniformly across all sensors.
const MaxSame = 4

// BatchCount is the number of frames concatenated into one logical message
// for batched sensors.
const BatchCount = 40

// Reading is one parsed, timestamped sensor event.
type Reading struct {
	Sensor ID
	// Values holds 1, 3, or 4 floats depending on Arity.
	Values [4]float64
	// Status is only meaningful for Orientation (Vec3Status), clamped to
	// [0,3] per the original ForOrientationSensor.cpp bridge.
	Status int
	// Timestamp is a monotonic nanosecond timestamp assigned at ingest time,
	// not producer time (invariant I5).
	Timestamp int64
}

// ClampStatus clamps an orientation status value into the valid [0,3] range,
// mirroring the original HAL bridge rather than trusting the wire value.
func ClampStatus(v int) int {
	if v < 0 {
		return 0
	}
	if v > 3 {
		return 3
	}
	return v
}
