// Package ftms encodes Fitness Machine Service control point commands and
// decodes treadmill data and machine status notifications.
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
package ftms

import (
	"errors"
	"fmt"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

// Service and characteristic UUIDs
const (
	ServiceUUID                 = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDTreadmillData       = "00002acd-0000-1000-8000-00805f9b34fb"
	CharUUIDControlPoint        = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDMachineStatus       = "00002ada-0000-1000-8000-00805f9b34fb"
	CharUUIDFeature             = "00002acc-0000-1000-8000-00805f9b34fb"
	CharUUIDSupportedSpeedRange = "00002ad4-0000-1000-8000-00805f9b34fb"
)

// Control point op codes
const (
	OpCodeRequestControl byte = 0x00
	OpCodeReset          byte = 0x01
	OpCodeSetTargetSpeed byte = 0x02
	OpCodeStartOrResume  byte = 0x07
	OpCodeStopOrPause    byte = 0x08
	OpCodeResponseCode   byte = 0x80
)

// Stop/Pause parameter
const (
	paramStop  byte = 0x01
	paramPause byte = 0x02
)

// Machine status op codes
const (
	statusStoppedOrPaused       byte = 0x02
	statusStartedOrResumed      byte = 0x04
	statusTargetSpeedChanged    byte = 0x05
	statusControlPermissionLost byte = 0x08
)

func RequestControl() []byte {
	return []byte{OpCodeRequestControl}
}

func Reset() []byte {
	return []byte{OpCodeReset}
}

// SetTargetSpeed takes the speed in hundredths of km/h (UINT16, little-endian)
func SetTargetSpeed(hundredths uint16) []byte {
	return []byte{OpCodeSetTargetSpeed, byte(hundredths & 0xFF), byte(hundredths >> 8)}
}

func StartOrResume() []byte {
	return []byte{OpCodeStartOrResume}
}

func Stop() []byte {
	return []byte{OpCodeStopOrPause, paramStop}
}

func Pause() []byte {
	return []byte{OpCodeStopOrPause, paramPause}
}

// DescribeControlPoint renders a control point command for logs
func DescribeControlPoint(data []byte) string {
	if len(data) == 0 {
		return "empty"
	}
	switch data[0] {
	case OpCodeRequestControl:
		return "Request Control"
	case OpCodeReset:
		return "Reset"
	case OpCodeSetTargetSpeed:
		if len(data) >= 3 {
			speed := uint16(data[1]) | uint16(data[2])<<8
			return fmt.Sprintf("Set Target Speed: %.2f km/h", float64(speed)*0.01)
		}
		return "Set Target Speed (malformed)"
	case OpCodeStartOrResume:
		return "Start/Resume"
	case OpCodeStopOrPause:
		if len(data) >= 2 && data[1] == paramPause {
			return "Pause"
		}
		return "Stop"
	case OpCodeResponseCode:
		if len(data) >= 3 {
			return fmt.Sprintf("Response to 0x%02X: result 0x%02X", data[1], data[2])
		}
		return "Response (malformed)"
	default:
		return fmt.Sprintf("Unknown opcode: 0x%02X", data[0])
	}
}

// Treadmill Data flag bit positions
const (
	tdFlagMoreData            = 1 << 0 // 0 = Instantaneous Speed present
	tdFlagAverageSpeed        = 1 << 1
	tdFlagTotalDistance       = 1 << 2
	tdFlagInclination         = 1 << 3 // inclination + ramp angle
	tdFlagElevationGain       = 1 << 4 // positive + negative
	tdFlagInstantaneousPace   = 1 << 5
	tdFlagAveragePace         = 1 << 6
	tdFlagExpendedEnergy      = 1 << 7 // total + per hour + per minute
	tdFlagHeartRate           = 1 << 8
	tdFlagMetabolicEquivalent = 1 << 9
	tdFlagElapsedTime         = 1 << 10
)

const treadmillDataMinLength = 4

var ErrTooShort = errors.New("treadmill data too short")

// ParseTreadmillData decodes a Treadmill Data notification. Fields the
// driver does not expose are skipped but still bounds checked.
func ParseTreadmillData(buf []byte) (*model.TreadmillStatus, error) {
	if len(buf) < treadmillDataMinLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(buf))
	}

	// Flags are first 2 bytes (little-endian UINT16)
	flags := uint16(buf[0]) | uint16(buf[1])<<8
	r := &fieldReader{buf: buf, offset: 2}

	var speed, distance, calories, elapsed int

	// 1. Instantaneous Speed (UINT16, 0.01 km/h), bit 0 is inverted
	if flags&tdFlagMoreData == 0 {
		v, err := r.readUint(2, "instantaneous speed")
		if err != nil {
			return nil, err
		}
		speed = v / 10
	}
	// 2. Average Speed
	if flags&tdFlagAverageSpeed != 0 {
		if err := r.skip(2, "average speed"); err != nil {
			return nil, err
		}
	}
	// 3. Total Distance (UINT24, meters)
	if flags&tdFlagTotalDistance != 0 {
		v, err := r.readUint(3, "total distance")
		if err != nil {
			return nil, err
		}
		distance = v
	}
	// 4. Inclination + Ramp Angle Setting
	if flags&tdFlagInclination != 0 {
		if err := r.skip(4, "inclination"); err != nil {
			return nil, err
		}
	}
	// 5. Positive + Negative Elevation Gain
	if flags&tdFlagElevationGain != 0 {
		if err := r.skip(4, "elevation gain"); err != nil {
			return nil, err
		}
	}
	// 6. Instantaneous Pace
	if flags&tdFlagInstantaneousPace != 0 {
		if err := r.skip(1, "instantaneous pace"); err != nil {
			return nil, err
		}
	}
	// 7. Average Pace
	if flags&tdFlagAveragePace != 0 {
		if err := r.skip(1, "average pace"); err != nil {
			return nil, err
		}
	}
	// 8. Expended Energy (UINT16 total, then UINT16 per hour + UINT8 per minute)
	if flags&tdFlagExpendedEnergy != 0 {
		v, err := r.readUint(2, "total energy")
		if err != nil {
			return nil, err
		}
		calories = v
		if err := r.skip(3, "energy rates"); err != nil {
			return nil, err
		}
	}
	// 9. Heart Rate
	if flags&tdFlagHeartRate != 0 {
		if err := r.skip(1, "heart rate"); err != nil {
			return nil, err
		}
	}
	// 10. Metabolic Equivalent
	if flags&tdFlagMetabolicEquivalent != 0 {
		if err := r.skip(1, "metabolic equivalent"); err != nil {
			return nil, err
		}
	}
	// 11. Elapsed Time (UINT16, seconds)
	if flags&tdFlagElapsedTime != 0 {
		v, err := r.readUint(2, "elapsed time")
		if err != nil {
			return nil, err
		}
		elapsed = v
	}

	belt := model.BeltIdle
	if speed > 0 {
		belt = model.BeltRunning
	}

	raw := make([]byte, len(buf))
	copy(raw, buf)

	return &model.TreadmillStatus{
		Raw:       raw,
		BeltState: belt,
		Speed:     speed,
		Mode:      model.ModeManual,
		Time:      elapsed,
		Distance:  distance,
		Calories:  calories,
		AppSpeed:  speed,
		Timestamp: time.Now(),
	}, nil
}

// fieldReader walks little-endian fields and refuses to read past the end
type fieldReader struct {
	buf    []byte
	offset int
}

func (r *fieldReader) check(n int, field string) error {
	if r.offset+n > len(r.buf) {
		return fmt.Errorf("buffer too short for %s at offset %d", field, r.offset)
	}
	return nil
}

func (r *fieldReader) readUint(n int, field string) (int, error) {
	if err := r.check(n, field); err != nil {
		return 0, err
	}
	v := 0
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | int(r.buf[r.offset+i])
	}
	r.offset += n
	return v, nil
}

func (r *fieldReader) skip(n int, field string) error {
	if err := r.check(n, field); err != nil {
		return err
	}
	r.offset += n
	return nil
}

// ParseMachineStatus decodes a Fitness Machine Status notification.
// Unknown op codes return nil without an error.
func ParseMachineStatus(buf []byte) (*model.MachineEvent, error) {
	if len(buf) == 0 {
		return nil, errors.New("empty machine status")
	}

	switch buf[0] {
	case statusStoppedOrPaused:
		reason := byte(0)
		if len(buf) > 1 {
			reason = buf[1]
		}
		if reason == paramStop {
			return &model.MachineEvent{Kind: model.StoppedByUser}, nil
		}
		return &model.MachineEvent{Kind: model.PausedByUser}, nil
	case statusStartedOrResumed:
		return &model.MachineEvent{Kind: model.StartedByUser}, nil
	case statusTargetSpeedChanged:
		if len(buf) < 3 {
			return nil, fmt.Errorf("buffer too short for target speed: %d bytes", len(buf))
		}
		speed := int(buf[1]) | int(buf[2])<<8
		return &model.MachineEvent{Kind: model.TargetSpeedChanged, TargetSpeed: speed}, nil
	case statusControlPermissionLost:
		return &model.MachineEvent{Kind: model.ControlPermissionLost}, nil
	default:
		return nil, nil
	}
}
