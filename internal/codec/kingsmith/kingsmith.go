// Package kingsmith implements the proprietary KingSmith side channel found on
// KS-HD-Z1D and similar models. It carries device bring-up and low power
// commands alongside the primary protocol.
package kingsmith

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const (
	ServiceUUID    = "24e2521c-f63b-48ed-85be-c5330a00fdf7"
	CharUUIDNotify = "24e2521c-f63b-48ed-85be-c5330b00fdf7"
	CharUUIDWrite  = "24e2521c-f63b-48ed-85be-c5330d00fdf7"
)

// Incoming frames: "WL" + type byte ... two byte footer
const (
	TypeReport byte = 0x52 // 'R' status report
	TypeAck    byte = 0x56 // 'V' command ack
	TypeInit   byte = 0x55 // 'U' init / version
	TypeQuery  byte = 0x51 // 'Q' query

	ReportFrameLength = 26
)

var (
	headerPrefix = []byte{0x57, 0x4C}
	footerAT     = []byte{0x41, 0x54}
)

// Outgoing command types
const (
	cmdInit   byte = 0x71
	cmdStatus byte = 0x72
	cmdConfig byte = 0x75
)

var (
	initDevicePayload    = []byte{0x64, 0x91, 0x5A, 0x31, 0x44}
	initTimestampTrailer = []byte{0x32, 0xF6, 0x59, 0x00}
)

const (
	powerByteOffset = 1
	powerSleep      = 0x40
	powerWake       = 0x00
)

var ErrNotReportFrame = errors.New("not a kingsmith status report")

// frame builds [type][sub][len][payload...][sum & 0xFF]
func frame(frameType, sub byte, payload ...byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, frameType, sub, byte(len(payload)))
	out = append(out, payload...)
	sum := 0
	for _, b := range out {
		sum += int(b)
	}
	return append(out, byte(sum&0xFF))
}

// InitDevice identifies the device model to the controller board
func InitDevice() []byte {
	return frame(cmdInit, 0x00, initDevicePayload...)
}

// InitTimestamp syncs the device clock
func InitTimestamp(now time.Time) []byte {
	payload := make([]byte, 4, 8)
	binary.LittleEndian.PutUint32(payload, uint32(now.Unix()))
	payload = append(payload, initTimestampTrailer...)
	return frame(cmdInit, 0x01, payload...)
}

func QueryStatus() []byte {
	return frame(cmdStatus, 0x00)
}

func QueryConfig() []byte {
	return frame(cmdConfig, 0x00)
}

func Sleep() []byte {
	return powerFrame(powerSleep)
}

func Wake() []byte {
	return powerFrame(powerWake)
}

func powerFrame(level byte) []byte {
	payload := []byte{0x0A, 0x00, 0x00}
	payload[powerByteOffset] = level
	return frame(cmdStatus, 0x01, payload...)
}

// Handshake returns the bring-up sequence in the order it must be sent
func Handshake(now time.Time) [][]byte {
	return [][]byte{
		InitDevice(),
		InitTimestamp(now),
		QueryStatus(),
		QueryConfig(),
	}
}

// IsFrame reports whether data starts with the "WL" header and a type byte
func IsFrame(data []byte) bool {
	return len(data) >= 3 && data[0] == headerPrefix[0] && data[1] == headerPrefix[1]
}

// ParseStatus decodes a 26 byte WLR report
func ParseStatus(data []byte) (*model.TreadmillStatus, error) {
	if !IsFrame(data) || data[2] != TypeReport {
		return nil, ErrNotReportFrame
	}
	if len(data) != ReportFrameLength {
		return nil, fmt.Errorf("report frame has %d bytes, want %d", len(data), ReportFrameLength)
	}
	if data[24] != footerAT[0] || data[25] != footerAT[1] {
		return nil, fmt.Errorf("report frame footer % X", data[24:26])
	}

	belt := model.BeltIdle
	if data[3] != 0 {
		belt = model.BeltRunning
	}
	speed := int(data[5])

	raw := make([]byte, len(data))
	copy(raw, data)

	return &model.TreadmillStatus{
		Raw:       raw,
		BeltState: belt,
		Speed:     speed,
		Mode:      model.ModeManual,
		Time:      int(binary.LittleEndian.Uint16(data[7:9])),
		Distance:  int(data[9]) | int(data[10])<<8 | int(data[11])<<16,
		AppSpeed:  speed,
		Timestamp: time.Now(),
	}, nil
}

// DescribeFrame renders an incoming frame for diagnostics
func DescribeFrame(data []byte) string {
	if !IsFrame(data) {
		return "unknown"
	}
	hex := formatHex(data)
	switch data[2] {
	case TypeReport:
		return fmt.Sprintf("WLR (status, %dB): %s", len(data), hex)
	case TypeAck:
		return fmt.Sprintf("WLV (ack, %dB): %s", len(data), hex)
	case TypeInit:
		return fmt.Sprintf("WLU (init, %dB): %s", len(data), hex)
	case TypeQuery:
		return fmt.Sprintf("WLQ (query, %dB): %s", len(data), hex)
	default:
		return fmt.Sprintf("WL%c (unknown, %dB): %s", data[2], len(data), hex)
	}
}

func formatHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
