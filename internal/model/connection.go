package model

// Device is a treadmill found during scanning
type Device struct {
	ID   string // transport address
	Name string
}

const UnknownDeviceName = "Unknown WalkingPad"

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Scanning
	Connecting
	Connected // link up, protocol not negotiated yet
	Ready     // protocol negotiated and subscriptions confirmed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Scanning:
		return "Scanning..."
	case Connecting:
		return "Connecting..."
	case Connected:
		return "Connected"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

func (s ConnectionState) IsConnected() bool {
	return s == Connected || s == Ready
}

type Protocol int

const (
	ProtocolNone Protocol = iota
	ProtocolLegacy
	ProtocolFTMS
)

func (p Protocol) String() string {
	switch p {
	case ProtocolLegacy:
		return "Legacy"
	case ProtocolFTMS:
		return "FTMS"
	default:
		return "None"
	}
}

type MachineEventKind int

const (
	StoppedByUser MachineEventKind = iota
	PausedByUser
	StartedByUser
	TargetSpeedChanged
	ControlPermissionLost
)

func (k MachineEventKind) String() string {
	switch k {
	case StoppedByUser:
		return "Stopped by user"
	case PausedByUser:
		return "Paused by user"
	case StartedByUser:
		return "Started by user"
	case TargetSpeedChanged:
		return "Target speed changed"
	case ControlPermissionLost:
		return "Control permission lost"
	default:
		return "Unknown"
	}
}

// MachineEvent is an FTMS machine status notification.
// TargetSpeed is only set for TargetSpeedChanged (hundredths of km/h).
type MachineEvent struct {
	Kind        MachineEventKind
	TargetSpeed int
}
