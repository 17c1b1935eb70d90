package ftms

import (
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

// Device side encoders, used by the simulated treadmill

// EncodeTreadmillData builds a notification carrying speed (hundredths of
// km/h), total distance (meters), total energy and elapsed time
func EncodeTreadmillData(speedHundredths, distance, calories, elapsed int) []byte {
	flags := uint16(tdFlagTotalDistance | tdFlagExpendedEnergy | tdFlagElapsedTime)
	return []byte{
		byte(flags), byte(flags >> 8),
		byte(speedHundredths), byte(speedHundredths >> 8),
		byte(distance), byte(distance >> 8), byte(distance >> 16),
		byte(calories), byte(calories >> 8),
		0x00, 0x00, // energy per hour
		0x00, // energy per minute
		byte(elapsed), byte(elapsed >> 8),
	}
}

// EncodeMachineStatus is the inverse of ParseMachineStatus
func EncodeMachineStatus(event model.MachineEvent) []byte {
	switch event.Kind {
	case model.StoppedByUser:
		return []byte{statusStoppedOrPaused, paramStop}
	case model.PausedByUser:
		return []byte{statusStoppedOrPaused, paramPause}
	case model.StartedByUser:
		return []byte{statusStartedOrResumed}
	case model.TargetSpeedChanged:
		return []byte{statusTargetSpeedChanged, byte(event.TargetSpeed), byte(event.TargetSpeed >> 8)}
	default:
		return []byte{statusControlPermissionLost}
	}
}

// EncodeResponse acknowledges a control point request with result success
func EncodeResponse(request []byte) []byte {
	op := byte(0xFF)
	if len(request) > 0 {
		op = request[0]
	}
	return []byte{OpCodeResponseCode, op, resultSuccess}
}

const resultSuccess byte = 0x01
