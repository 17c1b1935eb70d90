package model

import (
	"fmt"
	"time"
)

// BeltState is the motor status reported by the treadmill.
// Values match the legacy wire encoding.
type BeltState int

const (
	BeltIdle     BeltState = 0
	BeltRunning  BeltState = 1
	BeltStarting BeltState = 5
)

// BeltStateFromByte maps a raw belt byte, treating unknown values as idle
func BeltStateFromByte(b byte) BeltState {
	switch BeltState(b) {
	case BeltRunning:
		return BeltRunning
	case BeltStarting:
		return BeltStarting
	default:
		return BeltIdle
	}
}

func (s BeltState) String() string {
	switch s {
	case BeltRunning:
		return "Running"
	case BeltStarting:
		return "Starting"
	default:
		return "Idle"
	}
}

// IsActive reports whether the belt is moving or about to move
func (s BeltState) IsActive() bool {
	return s == BeltRunning || s == BeltStarting
}

type Mode int

const (
	ModeAuto    Mode = 0
	ModeManual  Mode = 1
	ModeStandby Mode = 2
)

// ModeFromByte maps a raw mode byte, treating unknown values as standby
func ModeFromByte(b byte) Mode {
	switch Mode(b) {
	case ModeAuto:
		return ModeAuto
	case ModeManual:
		return ModeManual
	default:
		return ModeStandby
	}
}

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "Auto"
	case ModeManual:
		return "Manual"
	default:
		return "Standby"
	}
}

// TreadmillStatus is one decoded telemetry frame.
// Speed is in tenths of km/h and Distance in hundredths of km.
type TreadmillStatus struct {
	Raw              []byte
	BeltState        BeltState
	Speed            int
	Mode             Mode
	Time             int // seconds
	Distance         int
	Calories         int
	AppSpeed         int
	ControllerButton int
	Timestamp        time.Time
}

func (s TreadmillStatus) SpeedKmh() float64 {
	return float64(s.Speed) / 10.0
}

func (s TreadmillStatus) DistanceKm() float64 {
	return float64(s.Distance) / 100.0
}

func (s TreadmillStatus) FormattedTime() string {
	return formatSeconds(s.Time)
}

// LastRecord summarizes the previous session stored on the device
type LastRecord struct {
	Raw       []byte
	Time      int
	Distance  int
	Timestamp time.Time
}

func (r LastRecord) DistanceKm() float64 {
	return float64(r.Distance) / 100.0
}

func (r LastRecord) FormattedTime() string {
	return formatSeconds(r.Time)
}

func formatSeconds(total int) string {
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
