package legacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

func TestEncodeStatus_ParsesBack(t *testing.T) {
	frame := EncodeStatus(model.TreadmillStatus{
		BeltState: model.BeltRunning,
		Speed:     42,
		Mode:      model.ModeManual,
		Time:      3725,
		Distance:  318,
		AppSpeed:  42,
	})
	assert.True(t, ValidCRC(frame))

	status, err := ParseStatus(frame)
	require.NoError(t, err)
	assert.Equal(t, model.BeltRunning, status.BeltState)
	assert.Equal(t, 42, status.Speed)
	assert.Equal(t, model.ModeManual, status.Mode)
	assert.Equal(t, 3725, status.Time)
	assert.Equal(t, 318, status.Distance)
}

func TestEncodeLastRecord_ParsesBack(t *testing.T) {
	frame := EncodeLastRecord(model.LastRecord{Time: 1800, Distance: 250})
	record, err := ParseLastRecord(frame)
	require.NoError(t, err)
	assert.Equal(t, 1800, record.Time)
	assert.Equal(t, 250, record.Distance)
}

func TestDescribeCommand(t *testing.T) {
	assert.Equal(t, "Ask Stats", DescribeCommand(AskStats()))
	assert.Equal(t, "Change Speed: 3.0 km/h", DescribeCommand(ChangeSpeed(30)))
	assert.Equal(t, "Start Belt", DescribeCommand(StartBelt()))
	assert.Equal(t, "Switch Mode: Manual", DescribeCommand(SwitchMode(model.ModeManual)))
	assert.Equal(t, "Set Preference 3: 60", DescribeCommand(SetMaxSpeed(60)))
	assert.Equal(t, "Ask History", DescribeCommand(AskHistory(0)))
	assert.Equal(t, "unknown", DescribeCommand([]byte{0x01, 0x02}))
}
