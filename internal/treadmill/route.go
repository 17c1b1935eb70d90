package treadmill

import (
	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/ftms"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/kingsmith"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/legacy"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

// Route is where primary commands go and where primary telemetry comes from.
// It is one of NoRoute, LegacyRoute or FTMSRoute.
type Route interface {
	Protocol() model.Protocol
	route()
}

type NoRoute struct{}

// LegacyRoute carries F7 frames over a matched notify/write pair
type LegacyRoute struct {
	Notify bt.Characteristic
	Write  bt.Characteristic
}

// FTMSRoute writes to the control point and reads treadmill data
type FTMSRoute struct {
	ControlPoint  bt.Characteristic
	TreadmillData bt.Characteristic
}

func (NoRoute) Protocol() model.Protocol     { return model.ProtocolNone }
func (LegacyRoute) Protocol() model.Protocol { return model.ProtocolLegacy }
func (FTMSRoute) Protocol() model.Protocol   { return model.ProtocolFTMS }

func (NoRoute) route()     {}
func (LegacyRoute) route() {}
func (FTMSRoute) route()   {}

// capabilities accumulates what characteristic discovery found across all
// services of one connection attempt
type capabilities struct {
	ftmsTreadmillData *bt.Characteristic
	ftmsControlPoint  *bt.Characteristic
	ftmsMachineStatus *bt.Characteristic
	ftmsFeature       *bt.Characteristic
	ftmsSpeedRange    *bt.Characteristic

	// index into legacy.KnownCharacteristicSets, -1 until a set matches
	legacyIndex  int
	legacyNotify bt.Characteristic
	legacyWrite  bt.Characteristic

	kingSmithWrite *bt.Characteristic

	notifiable []bt.Characteristic
	writable   []bt.Characteristic
	seen       map[string]bool
}

func newCapabilities() *capabilities {
	return &capabilities{
		legacyIndex: -1,
		seen:        make(map[string]bool),
	}
}

// record adds the characteristics of one service
func (c *capabilities) record(service bt.Service, chars []bt.Characteristic) {
	for _, char := range chars {
		if c.seen[char.Key()] {
			continue
		}
		c.seen[char.Key()] = true
		if char.Properties.CanNotify() {
			c.notifiable = append(c.notifiable, char)
		}
		if char.Properties.CanWrite() {
			c.writable = append(c.writable, char)
		}
	}

	if bt.SameUUID(service.UUID, ftms.ServiceUUID) {
		c.recordFTMS(chars)
	}
	if bt.SameUUID(service.UUID, kingsmith.ServiceUUID) {
		if write, ok := findChar(chars, kingsmith.CharUUIDWrite); ok {
			c.kingSmithWrite = &write
		}
	}
	c.recordLegacy(service, chars)
}

func (c *capabilities) recordFTMS(chars []bt.Characteristic) {
	for _, char := range chars {
		switch {
		case bt.SameUUID(char.UUID, ftms.CharUUIDTreadmillData):
			c.ftmsTreadmillData = &char
		case bt.SameUUID(char.UUID, ftms.CharUUIDControlPoint):
			c.ftmsControlPoint = &char
		case bt.SameUUID(char.UUID, ftms.CharUUIDMachineStatus):
			c.ftmsMachineStatus = &char
		case bt.SameUUID(char.UUID, ftms.CharUUIDFeature):
			c.ftmsFeature = &char
		case bt.SameUUID(char.UUID, ftms.CharUUIDSupportedSpeedRange):
			c.ftmsSpeedRange = &char
		}
	}
}

// recordLegacy keeps the fully matched candidate set with the lowest index
func (c *capabilities) recordLegacy(service bt.Service, chars []bt.Characteristic) {
	for index, set := range legacy.KnownCharacteristicSets {
		if c.legacyIndex >= 0 && c.legacyIndex <= index {
			return
		}
		if !bt.SameUUID(service.UUID, set.ServiceUUID) {
			continue
		}
		notify, okNotify := findChar(chars, set.NotifyUUID)
		write, okWrite := findChar(chars, set.WriteUUID)
		if !okNotify || !okWrite {
			continue
		}
		c.legacyIndex = index
		c.legacyNotify = notify
		c.legacyWrite = write
		return
	}
}

// route prefers FTMS when both its control point and treadmill data exist
func (c *capabilities) route() Route {
	if c.ftmsControlPoint != nil && c.ftmsTreadmillData != nil {
		return FTMSRoute{ControlPoint: *c.ftmsControlPoint, TreadmillData: *c.ftmsTreadmillData}
	}
	if c.legacyIndex >= 0 {
		return LegacyRoute{Notify: c.legacyNotify, Write: c.legacyWrite}
	}
	return NoRoute{}
}

// diagnosticReads are read once after protocol selection, for logging only
func (c *capabilities) diagnosticReads() []bt.Characteristic {
	var out []bt.Characteristic
	if c.ftmsFeature != nil {
		out = append(out, *c.ftmsFeature)
	}
	if c.ftmsSpeedRange != nil {
		out = append(out, *c.ftmsSpeedRange)
	}
	return out
}

func findChar(chars []bt.Characteristic, uuid string) (bt.Characteristic, bool) {
	for _, char := range chars {
		if bt.SameUUID(char.UUID, uuid) {
			return char, true
		}
	}
	return bt.Characteristic{}, false
}
