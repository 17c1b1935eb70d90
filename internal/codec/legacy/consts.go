// Package legacy implements the original WalkingPad serial-style protocol:
// F7 ... FD framed commands with a summed checksum and F8-prefixed replies.
package legacy

import "time"

// CharacteristicSet is one known (service, notify, write) triple used by a
// generation of WalkingPad hardware.
type CharacteristicSet struct {
	ServiceUUID string
	NotifyUUID  string
	WriteUUID   string
}

// KnownCharacteristicSets is ordered by priority: the first fully matched set wins.
// Older pads use FE00, newer KS-HD models FFF0 or FFC0.
var KnownCharacteristicSets = []CharacteristicSet{
	{
		ServiceUUID: "0000fe00-0000-1000-8000-00805f9b34fb",
		NotifyUUID:  "0000fe01-0000-1000-8000-00805f9b34fb",
		WriteUUID:   "0000fe02-0000-1000-8000-00805f9b34fb",
	},
	{
		ServiceUUID: "0000fff0-0000-1000-8000-00805f9b34fb",
		NotifyUUID:  "0000fff1-0000-1000-8000-00805f9b34fb",
		WriteUUID:   "0000fff2-0000-1000-8000-00805f9b34fb",
	},
	{
		ServiceUUID: "0000ffc0-0000-1000-8000-00805f9b34fb",
		NotifyUUID:  "0000ffc1-0000-1000-8000-00805f9b34fb",
		WriteUUID:   "0000ffc2-0000-1000-8000-00805f9b34fb",
	},
}

const (
	FrameStart byte = 0xF7
	FrameEnd   byte = 0xFD

	StatusFrameMinLength  = 18
	HistoryFrameMinLength = 17

	// DefaultIntWidth is the byte width of time, distance and preference values
	DefaultIntWidth = 3
)

var (
	StatusPrefix  = []byte{0xF8, 0xA2}
	HistoryPrefix = []byte{0xF8, 0xA7}
)

// MinCommandSpacing is how long the device needs between two commands
// before its input buffer accepts the next one.
const MinCommandSpacing = 690 * time.Millisecond

// DeviceNamePrefixes are matched against the lower-cased advertised name
var DeviceNamePrefixes = []string{"walkingpad", "ks-"}

// command group bytes
const (
	groupControl    byte = 0xA2
	groupPreference byte = 0xA6
	groupHistory    byte = 0xA7
)

// control sub commands
const (
	cmdAskStats    byte = 0x00
	cmdChangeSpeed byte = 0x01
	cmdSwitchMode  byte = 0x02
	cmdStartBelt   byte = 0x04
)
