package legacy

import (
	"fmt"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const (
	statusFrameLength  = 20
	historyFrameLength = 19
)

// EncodeStatus builds the F8 A2 reply a pad sends for AskStats
func EncodeStatus(s model.TreadmillStatus) []byte {
	frame := make([]byte, statusFrameLength)
	copy(frame, StatusPrefix)
	frame[offBelt] = byte(s.BeltState)
	frame[offSpeed] = byte(s.Speed)
	frame[offMode] = byte(s.Mode)
	copy(frame[offTime:], Int2Byte(s.Time, DefaultIntWidth))
	copy(frame[offDistance:], Int2Byte(s.Distance, DefaultIntWidth))
	frame[offAppSpeed] = byte(s.AppSpeed)
	frame[offControllerButton] = byte(s.ControllerButton)
	frame[len(frame)-1] = FrameEnd
	FixCRC(frame)
	return frame
}

// EncodeLastRecord builds the F8 A7 reply to AskHistory
func EncodeLastRecord(r model.LastRecord) []byte {
	frame := make([]byte, historyFrameLength)
	copy(frame, HistoryPrefix)
	copy(frame[offHistoryTime:], Int2Byte(r.Time, DefaultIntWidth))
	copy(frame[offHistoryDistance:], Int2Byte(r.Distance, DefaultIntWidth))
	frame[len(frame)-1] = FrameEnd
	FixCRC(frame)
	return frame
}

// DescribeCommand renders an outgoing F7 frame for logs
func DescribeCommand(frame []byte) string {
	if len(frame) < 5 || frame[0] != FrameStart || frame[len(frame)-1] != FrameEnd {
		return "unknown"
	}
	switch frame[1] {
	case groupControl:
		switch frame[2] {
		case cmdAskStats:
			return "Ask Stats"
		case cmdChangeSpeed:
			return fmt.Sprintf("Change Speed: %.1f km/h", float64(frame[3])/10)
		case cmdSwitchMode:
			return fmt.Sprintf("Switch Mode: %s", model.ModeFromByte(frame[3]))
		case cmdStartBelt:
			return "Start Belt"
		}
	case groupPreference:
		if len(frame) >= 9 {
			return fmt.Sprintf("Set Preference %d: %d", frame[2], Byte2Int(frame[4:7]))
		}
	case groupHistory:
		return "Ask History"
	}
	return fmt.Sprintf("Unknown command % X", frame)
}
