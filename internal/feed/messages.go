package feed

import (
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const (
	TypeConnection = "connection"
	TypeStatus     = "status"
	TypeRecord     = "record"
	TypeEvent      = "event"
)

// Message is one JSON frame on /ws; exactly one payload field is set
type Message struct {
	Type       string      `json:"type"`
	Connection *Connection `json:"connection,omitempty"`
	Status     *Status     `json:"status,omitempty"`
	Record     *Record     `json:"record,omitempty"`
	Event      *Event      `json:"event,omitempty"`
}

type Connection struct {
	State      string `json:"state"`
	Connected  bool   `json:"connected"`
	Protocol   string `json:"protocol"`
	Address    string `json:"address,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

type Status struct {
	Belt       string    `json:"belt"`
	Mode       string    `json:"mode"`
	SpeedKmh   float64   `json:"speed_kmh"`
	DistanceKm float64   `json:"distance_km"`
	Seconds    int       `json:"seconds"`
	Calories   int       `json:"calories,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Record struct {
	DistanceKm float64   `json:"distance_km"`
	Seconds    int       `json:"seconds"`
	Timestamp  time.Time `json:"timestamp"`
}

type Event struct {
	Kind           string  `json:"kind"`
	TargetSpeedKmh float64 `json:"target_speed_kmh,omitempty"`
}

func connectionMessage(state model.ConnectionState, protocol model.Protocol, device model.Device, hasDevice bool) Message {
	c := &Connection{
		State:     state.String(),
		Connected: state.IsConnected(),
		Protocol:  protocol.String(),
	}
	if hasDevice {
		c.Address = device.ID
		c.DeviceName = device.Name
	}
	return Message{Type: TypeConnection, Connection: c}
}

func statusMessage(s model.TreadmillStatus) Message {
	return Message{Type: TypeStatus, Status: &Status{
		Belt:       s.BeltState.String(),
		Mode:       s.Mode.String(),
		SpeedKmh:   s.SpeedKmh(),
		DistanceKm: s.DistanceKm(),
		Seconds:    s.Time,
		Calories:   s.Calories,
		Timestamp:  s.Timestamp,
	}}
}

func recordMessage(r model.LastRecord) Message {
	return Message{Type: TypeRecord, Record: &Record{
		DistanceKm: r.DistanceKm(),
		Seconds:    r.Time,
		Timestamp:  r.Timestamp,
	}}
}

func eventMessage(ev model.MachineEvent) Message {
	e := &Event{Kind: ev.Kind.String()}
	if ev.Kind == model.TargetSpeedChanged {
		e.TargetSpeedKmh = float64(ev.TargetSpeed) / 100.0
	}
	return Message{Type: TypeEvent, Event: e}
}
