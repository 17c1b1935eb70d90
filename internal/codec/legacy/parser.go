package legacy

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

var (
	ErrNotStatusFrame  = errors.New("not a legacy status frame")
	ErrNotHistoryFrame = errors.New("not a legacy history frame")
)

// status frame offsets
const (
	offBelt             = 2
	offSpeed            = 3
	offMode             = 4
	offTime             = 5
	offDistance         = 8
	offAppSpeed         = 14
	offControllerButton = 16
)

// history frame offsets
const (
	offHistoryTime     = 8
	offHistoryDistance = 11
)

// IsStatusFrame reports whether data carries the status reply prefix
func IsStatusFrame(data []byte) bool {
	return bytes.HasPrefix(data, StatusPrefix)
}

func IsHistoryFrame(data []byte) bool {
	return bytes.HasPrefix(data, HistoryPrefix)
}

// ParseStatus decodes an F8 A2 status reply
func ParseStatus(data []byte) (*model.TreadmillStatus, error) {
	if !IsStatusFrame(data) {
		return nil, ErrNotStatusFrame
	}
	if len(data) < StatusFrameMinLength {
		return nil, fmt.Errorf("status frame too short: %d bytes", len(data))
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return &model.TreadmillStatus{
		Raw:              raw,
		BeltState:        model.BeltStateFromByte(data[offBelt]),
		Speed:            int(data[offSpeed]),
		Mode:             model.ModeFromByte(data[offMode]),
		Time:             Byte2Int(data[offTime : offTime+DefaultIntWidth]),
		Distance:         Byte2Int(data[offDistance : offDistance+DefaultIntWidth]),
		AppSpeed:         int(data[offAppSpeed]),
		ControllerButton: int(data[offControllerButton]),
		Timestamp:        time.Now(),
	}, nil
}

// ParseLastRecord decodes an F8 A7 history reply
func ParseLastRecord(data []byte) (*model.LastRecord, error) {
	if !IsHistoryFrame(data) {
		return nil, ErrNotHistoryFrame
	}
	if len(data) < HistoryFrameMinLength {
		return nil, fmt.Errorf("history frame too short: %d bytes", len(data))
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return &model.LastRecord{
		Raw:       raw,
		Time:      Byte2Int(data[offHistoryTime : offHistoryTime+DefaultIntWidth]),
		Distance:  Byte2Int(data[offHistoryDistance : offHistoryDistance+DefaultIntWidth]),
		Timestamp: time.Now(),
	}, nil
}
