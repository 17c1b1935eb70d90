package legacy

import (
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

// newFrame wraps body as F7 <body> <crc> FD and fixes the checksum
func newFrame(body ...byte) []byte {
	frame := make([]byte, 0, len(body)+3)
	frame = append(frame, FrameStart)
	frame = append(frame, body...)
	frame = append(frame, 0x00, FrameEnd)
	FixCRC(frame)
	return frame
}

func AskStats() []byte {
	return newFrame(groupControl, cmdAskStats, 0x00)
}

// ChangeSpeed sets the belt speed in tenths of km/h
func ChangeSpeed(speed int) []byte {
	return newFrame(groupControl, cmdChangeSpeed, byte(speed&0xFF))
}

func SwitchMode(mode model.Mode) []byte {
	return newFrame(groupControl, cmdSwitchMode, byte(mode))
}

func StartBelt() []byte {
	return newFrame(groupControl, cmdStartBelt, 0x01)
}

// StopBelt is a speed change to zero; the protocol has no dedicated stop
func StopBelt() []byte {
	return ChangeSpeed(0)
}

// AskHistory requests the last session record. Mode 0 asks for the latest
// record, anything else for the stored one.
func AskHistory(mode int) []byte {
	if mode == 0 {
		return newFrame(groupHistory, 0xAA, 0xFF)
	}
	return newFrame(groupHistory, 0xAA, 0x00)
}

// SetPreference builds F7 A6 key subtype v0 v1 v2 crc FD
func SetPreference(key model.PreferenceKey, value int, subtype byte) []byte {
	body := []byte{groupPreference, byte(key), subtype}
	body = append(body, Int2Byte(value, DefaultIntWidth)...)
	return newFrame(body...)
}

func SetMaxSpeed(speedTenths int) []byte {
	return SetPreference(model.PrefMaxSpeed, speedTenths, 0)
}

func SetStartSpeed(speedTenths int) []byte {
	return SetPreference(model.PrefStartSpeed, speedTenths, 0)
}

func SetIntelligentStart(enabled bool) []byte {
	return SetPreference(model.PrefStartIntel, boolValue(enabled), 0)
}

func SetSensitivity(level model.Sensitivity) []byte {
	return SetPreference(model.PrefSensitivity, int(level), 0)
}

// SetDisplay selects which fields the console cycles through (bit mask)
func SetDisplay(bitMask int) []byte {
	return SetPreference(model.PrefDisplay, bitMask, 0)
}

func SetChildLock(enabled bool) []byte {
	return SetPreference(model.PrefChildLock, boolValue(enabled), 0)
}

func SetUnitsMiles(enabled bool) []byte {
	return SetPreference(model.PrefUnits, boolValue(enabled), 0)
}

func SetTarget(targetType model.TargetType, value int) []byte {
	return SetPreference(model.PrefTarget, value, byte(targetType))
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
