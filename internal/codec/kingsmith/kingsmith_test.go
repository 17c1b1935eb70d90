package kingsmith

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

func checksumOK(t *testing.T, f []byte) {
	t.Helper()
	require.NotEmpty(t, f)
	sum := 0
	for _, b := range f[:len(f)-1] {
		sum += int(b)
	}
	assert.Equal(t, byte(sum&0xFF), f[len(f)-1], "frame % X", f)
}

func TestSleepWake(t *testing.T) {
	sleep := Sleep()
	wake := Wake()

	checksumOK(t, sleep)
	checksumOK(t, wake)

	assert.Equal(t, []byte{0x72, 0x01, 0x03, 0x0A, 0x40, 0x00}, sleep[:6])
	assert.Equal(t, []byte{0x72, 0x01, 0x03, 0x0A, 0x00, 0x00}, wake[:6])

	// payload starts at byte 3, so offset 1 is byte 4
	for i := 0; i < len(sleep)-1; i++ {
		if i == 4 {
			assert.NotEqual(t, sleep[i], wake[i])
			continue
		}
		assert.Equal(t, sleep[i], wake[i], "byte %d", i)
	}
}

func TestHandshakeFrames(t *testing.T) {
	now := time.Unix(0x01020304, 0)
	frames := Handshake(now)
	require.Len(t, frames, 4)

	assert.Equal(t, []byte{0x71, 0x00, 0x05, 0x64, 0x91, 0x5A, 0x31, 0x44}, frames[0][:8])
	assert.Equal(t, []byte{0x71, 0x01, 0x08, 0x04, 0x03, 0x02, 0x01, 0x32, 0xF6, 0x59, 0x00}, frames[1][:11])
	assert.Equal(t, []byte{0x72, 0x00, 0x00, 0x72}, frames[2])
	assert.Equal(t, []byte{0x75, 0x00, 0x00, 0x75}, frames[3])

	for _, f := range frames {
		checksumOK(t, f)
	}
}

func reportFrame() []byte {
	data := make([]byte, ReportFrameLength)
	data[0] = 0x57
	data[1] = 0x4C
	data[2] = 0x52
	data[3] = 0x01
	data[5] = 30
	data[7] = 0x3C
	data[9] = 0xC8
	data[24] = 0x41
	data[25] = 0x54
	return data
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus(reportFrame())
	require.NoError(t, err)
	assert.Equal(t, model.BeltRunning, status.BeltState)
	assert.Equal(t, 30, status.Speed)
	assert.Equal(t, 60, status.Time)
	assert.Equal(t, 200, status.Distance)
}

func TestParseStatus_Rejects(t *testing.T) {
	wrongType := reportFrame()
	wrongType[2] = TypeAck
	_, err := ParseStatus(wrongType)
	assert.ErrorIs(t, err, ErrNotReportFrame)

	wrongFooter := reportFrame()
	wrongFooter[24] = 0
	wrongFooter[25] = 0
	status, err := ParseStatus(wrongFooter)
	assert.Nil(t, status)
	assert.Error(t, err)

	status, err = ParseStatus(reportFrame()[:25])
	assert.Nil(t, status)
	assert.Error(t, err)

	status, err = ParseStatus(append(reportFrame(), 0x00))
	assert.Nil(t, status)
	assert.Error(t, err)
}

func TestIsFrame(t *testing.T) {
	assert.True(t, IsFrame([]byte{0x57, 0x4C, 0x52}))
	assert.True(t, IsFrame([]byte{0x57, 0x4C, 0x56}))
	assert.False(t, IsFrame([]byte{0x57, 0x00, 0x52}))
	assert.False(t, IsFrame([]byte{0x57}))
}

func TestDescribeFrame(t *testing.T) {
	assert.Equal(t, "WLV (ack, 3B): 57 4C 56", DescribeFrame([]byte{0x57, 0x4C, 0x56}))
	assert.Equal(t, "WLZ (unknown, 3B): 57 4C 5A", DescribeFrame([]byte{0x57, 0x4C, 0x5A}))
	assert.Equal(t, "unknown", DescribeFrame([]byte{0x01}))
}
