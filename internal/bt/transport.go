// Package bt is the radio collaborator surface used by the treadmill driver.
// AdapterTransport drives a real adapter through tinygo bluetooth and
// MockTransport simulates a treadmill in memory.
package bt

import (
	"context"
	"strings"
)

// Properties are the GATT capability flags of a characteristic
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
	// PropUnknown is reported when the backend cannot tell. Such a
	// characteristic is treated as both notify and write capable.
	PropUnknown
)

func (p Properties) CanNotify() bool {
	return p&(PropNotify|PropIndicate|PropUnknown) != 0
}

func (p Properties) CanWrite() bool {
	return p&(PropWrite|PropWriteWithoutResponse|PropUnknown) != 0
}

func (p Properties) String() string {
	if p == 0 {
		return "none"
	}
	names := []struct {
		flag Properties
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropUnknown, "unknown"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if p&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Advertisement is one scan result
type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

type Service struct {
	UUID string
}

// Characteristic identifies a value by its normalized service and
// characteristic UUIDs
type Characteristic struct {
	ServiceUUID string
	UUID        string
	Properties  Properties
}

// Key is unique per characteristic on one device
func (c Characteristic) Key() string {
	return c.ServiceUUID + "_" + c.UUID
}

// Notification is a value update received from a subscribed characteristic
type Notification struct {
	Address        string
	Characteristic Characteristic
	Data           []byte
}

// LinkEvent reports that a link came up or went away
type LinkEvent struct {
	Address   string
	Connected bool
}

// Transport is everything the treadmill driver needs from the radio.
// Calls block until the operation completes; callers that must not block
// run them on their own goroutine.
type Transport interface {
	Enable() error
	// Scan delivers advertisements to onResult until ctx is cancelled or
	// StopScan is called.
	Scan(ctx context.Context, onResult func(Advertisement)) error
	StopScan() error
	// Connect returns once the link is up
	Connect(ctx context.Context, address string) error
	Disconnect(address string) error
	DiscoverServices(address string) ([]Service, error)
	DiscoverCharacteristics(address string, service Service) ([]Characteristic, error)
	Write(address string, char Characteristic, data []byte, withResponse bool) error
	SetNotify(address string, char Characteristic, enabled bool) error
	Read(address string, char Characteristic) ([]byte, error)
	ListenToNotifications(ch chan<- Notification) func()
	ListenToLinkEvents(ch chan<- LinkEvent) func()
}
