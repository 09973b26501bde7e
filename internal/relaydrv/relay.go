// Package relaydrv implements the L2b Waveshare relay/digital-input
// board driver: an 8-channel relay output board with matching digital
// inputs, control-mode logic, and a one-shot mask buffer for
// WriteMultipleCoils round-trips.
package relaydrv

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"modbusbaby/internal/device"
	"modbusbaby/internal/mbmaster"
)

// Function ids this driver schedules and dispatches, continuing the
// vendor firmware's own RtuCustomStart + 0x00xx numbering (grounded on
// wsrelaydiginmbrtu.h's TRelayFunction enum).
const (
	UpdateRelay device.FunctionID = device.CustomStart + 0x0001 + iota
	ReadRelayStatus
	ReadDigitalInput
	WriteRelayStatus
	WriteRelayMask
	ReadControlMode
	WriteControlMode
	WriteControlModes
	// SetFlashOn and SetFlashOff mirror the vendor firmware's
	// SetFlashOnInterval/SetFlashOffInterval enum members: declared by
	// the original driver but never wired to a dispatch case or a send()
	// call anywhere in its source. Kept here for parity with the vendor
	// function id space; DispatchFunction rejects them same as upstream.
	SetFlashOn
	SetFlashOff
)

const (
	coilStart     = 0x0000
	controlStart  = 0x1000
	maxRelays     = 8
	allRelaysCoil = 0xFF
)

// ControlMode is the per-relay behaviour in the face of its matching
// digital input.
type ControlMode uint16

const (
	Normal  ControlMode = 0
	Linkage ControlMode = 1
	Toggle  ControlMode = 2
)

func (m ControlMode) String() string {
	switch m {
	case Linkage:
		return "Linkage"
	case Toggle:
		return "Toggle"
	default:
		return "Normal"
	}
}

// RelayChangedEvent fires whenever a relay's on/off state is confirmed by
// the device, including the synthesized per-index events after a mask
// write and the real echo after a single toggle.
type RelayChangedEvent struct {
	Relay int
	State bool
}

// InputChangedEvent fires for each digital input read back from the board.
type InputChangedEvent struct {
	Channel int
	State   bool
}

// ModeChangedEvent fires as soon as SetControlMode/SetControlModes is
// called, with or without a device write (the write's acknowledgement is
// not waited for), and for every relay on a control-mode read.
type ModeChangedEvent struct {
	Relay int
	Mode  ControlMode
}

func (RelayChangedEvent) DeviceNotification() {}
func (InputChangedEvent) DeviceNotification() {}
func (ModeChangedEvent) DeviceNotification()  {}

// Driver is the 8-channel relay/DI board. It embeds device.Base for the
// queue/poll/dispatch kernel and supplies the Hooks implementation.
type Driver struct {
	*device.Base
	log *logrus.Logger

	mu          sync.RWMutex
	relays      [maxRelays]bool
	inputs      [maxRelays]bool
	control     [maxRelays]ControlMode
	pendingMask *byte
}

// New wires a relay driver to master at the given default address (the
// original firmware defaults new instances to address 3 with a 2s poll
// interval; see wsrelaydiginmbrtu.cpp's constructor).
func New(master *mbmaster.Master, log *logrus.Logger, address byte) *Driver {
	d := &Driver{log: log}
	d.Base = device.NewBase(master, d, log, address, 2000)
	return d
}

func (d *Driver) ID() string         { return "WRELAY:" }
func (d *Driver) MaxInputs() uint8   { return maxRelays }
func (d *Driver) MaxOutputs() uint8  { return maxRelays }

// OnOpen schedules the initial queries the original constructor's
// doModbusOpened() issues, in the same order.
func (d *Driver) OnOpen() {
	d.ScheduleFunction(ReadControlMode)
	d.ScheduleFunction(ReadRelayStatus)
	d.ScheduleFunction(ReadDigitalInput)
}

// OnPollTick tops up the two cyclic reads, inputs before relays so a
// linkage-mode relay's consequence of an input change is observed in the
// same cycle as the cause.
func (d *Driver) OnPollTick() {
	d.ScheduleFunction(ReadDigitalInput)
	d.ScheduleFunction(ReadRelayStatus)
}

func (d *Driver) DispatchFunction(id device.FunctionID) {
	switch id {
	case ReadRelayStatus:
		d.ReadUnit(id, mbmaster.DataUnit{Kind: mbmaster.Coils, StartAddress: coilStart, Values: make([]uint16, maxRelays)})
	case ReadDigitalInput:
		d.ReadUnit(id, mbmaster.DataUnit{Kind: mbmaster.DiscreteInputs, StartAddress: coilStart, Values: make([]uint16, maxRelays)})
	case ReadControlMode:
		d.ReadUnit(id, mbmaster.DataUnit{Kind: mbmaster.HoldingRegisters, StartAddress: controlStart, Values: make([]uint16, maxRelays)})
	default:
		d.log.Warnf("%s dispatch: unscheduled function %v", d.ID(), id)
	}
}

// SetRelayStatus toggles one relay. Matches setRelayStatus's UpdateRelay
// vs WriteRelayStatus split on the "all relays" sentinel coil 0xFF. The
// actual send is routed through Submit so it runs on the driver's single
// run-loop goroutine alongside everything else touching CurrentFunction.
func (d *Driver) SetRelayStatus(relay int, state bool) error {
	if relay < 0 || relay >= maxRelays {
		d.log.Errorf("%s invalid relay number: %d", d.ID(), relay)
		return fmt.Errorf("relaydrv: relay %d out of range", relay)
	}
	fn, pdu := buildSetRelayPDU(relay, state)
	d.Submit(func() { d.SendRaw(fn, pdu) })
	return nil
}

// SetAllRelays writes an 8-bit mask via WriteMultipleCoils. The device
// only echoes the written count, not the mask, so the mask is stashed in
// a single-slot field and consumed when the echo arrives in
// HandleInputRegisters. Two mask writes in flight at once would mean the
// one-in-flight invariant was violated; that is a programming error.
func (d *Driver) SetAllRelays(mask byte) error {
	d.mu.Lock()
	if d.pendingMask != nil {
		d.mu.Unlock()
		return fmt.Errorf("relaydrv: mask write already in flight")
	}
	m := mask
	d.pendingMask = &m
	d.mu.Unlock()

	d.Submit(func() { d.SendRaw(WriteRelayMask, buildSetAllRelaysPDU(mask)) })
	return nil
}

// SetControlMode sets one relay's control mode, optionally writing vendor
// register 0x1000+relay. ModeChangedEvent is emitted immediately in both
// cases, matching the original's unconditional emit-then-maybe-send order
// in setControlMode/setControlModes; the device's echo of the write does
// not emit it again.
func (d *Driver) SetControlMode(relay int, mode ControlMode, updateDevice bool) error {
	if relay < 0 || relay >= maxRelays {
		d.log.Errorf("%s invalid relay number: %d", d.ID(), relay)
		return fmt.Errorf("relaydrv: relay %d out of range", relay)
	}
	d.mu.Lock()
	d.control[relay] = mode
	d.mu.Unlock()

	if updateDevice {
		d.Submit(func() { d.SendRaw(WriteControlMode, buildWriteControlModePDU(relay, mode)) })
	}
	d.emitModeChanged(relay, mode)
	return nil
}

// SetControlModes bulk-writes all 8 control modes via WriteMultipleRegisters.
func (d *Driver) SetControlModes(modes [maxRelays]ControlMode, updateDevice bool) error {
	d.mu.Lock()
	d.control = modes
	d.mu.Unlock()

	if updateDevice {
		d.Submit(func() { d.SendRaw(WriteControlModes, buildWriteControlModesPDU(modes)) })
	}
	for i, m := range modes {
		d.emitModeChanged(i, m)
	}
	return nil
}

func (d *Driver) emitModeChanged(relay int, mode ControlMode) {
	d.notify(ModeChangedEvent{Relay: relay, Mode: mode})
}

// RelayStatus returns the last known on/off state of relay.
func (d *Driver) RelayStatus(relay int) (bool, error) {
	if relay < 0 || relay >= maxRelays {
		return false, fmt.Errorf("relaydrv: relay %d out of range", relay)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.relays[relay], nil
}

// ControlModeOf returns the last known control mode of relay.
func (d *Driver) ControlModeOf(relay int) (ControlMode, error) {
	if relay < 0 || relay >= maxRelays {
		return Normal, fmt.Errorf("relaydrv: relay %d out of range", relay)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.control[relay], nil
}

// DigitalInput returns the last known state of digital input channel.
func (d *Driver) DigitalInput(channel int) (bool, error) {
	if channel < 0 || channel >= maxRelays {
		return false, fmt.Errorf("relaydrv: channel %d out of range", channel)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inputs[channel], nil
}

func (d *Driver) HandleCoils(unit mbmaster.DataUnit) bool {
	if d.currentIs(ReadRelayStatus) {
		states := decodeBoolUnit(unit.Values)
		d.mu.Lock()
		d.relays = states
		d.mu.Unlock()
		for i := 0; i < len(unit.Values) && i < maxRelays; i++ {
			d.notify(RelayChangedEvent{Relay: i, State: states[i]})
		}
		return true
	}
	return false
}

func (d *Driver) HandleDiscreteInputs(unit mbmaster.DataUnit) bool {
	if d.currentIs(ReadDigitalInput) {
		states := decodeBoolUnit(unit.Values)
		d.mu.Lock()
		d.inputs = states
		d.mu.Unlock()
		for i := 0; i < len(unit.Values) && i < maxRelays; i++ {
			d.notify(InputChangedEvent{Channel: i, State: states[i]})
		}
		return true
	}
	return false
}

func (d *Driver) HandleHoldingRegisters(unit mbmaster.DataUnit) bool {
	if d.currentIs(ReadControlMode) {
		modes := decodeControlModes(unit.Values)
		d.mu.Lock()
		d.control = modes
		d.mu.Unlock()
		for i := 0; i < len(unit.Values) && i < maxRelays; i++ {
			d.notify(ModeChangedEvent{Relay: i, Mode: modes[i]})
		}
		return true
	}
	return d.Base.DefaultHandleHoldingRegisters(unit)
}

// HandleInputRegisters decodes the echoed writes. The master routes write
// acknowledgements through the InputRegisters path because the echoed PDU
// carries (address, value) pairs rather than a coil/register read payload.
// A redundant single-index overwrite before the full 0..7 loop in the
// vendor firmware's WriteRelayStatus case is not replicated here — the
// loop alone produces the correct final state.
func (d *Driver) HandleInputRegisters(unit mbmaster.DataUnit) bool {
	switch {
	case d.currentIs(UpdateRelay):
		if len(unit.Values) != 2 {
			return true
		}
		relay := int(unit.Values[0])
		state := unit.Values[1] != 0
		if relay >= 0 && relay < maxRelays {
			d.mu.Lock()
			d.relays[relay] = state
			d.mu.Unlock()
			d.notify(RelayChangedEvent{Relay: relay, State: state})
		}
		return true

	case d.currentIs(WriteRelayStatus):
		if len(unit.Values) != 2 {
			return true
		}
		state := unit.Values[1] != 0
		d.mu.Lock()
		for i := 0; i < maxRelays; i++ {
			d.relays[i] = state
		}
		d.mu.Unlock()
		for i := 0; i < maxRelays; i++ {
			d.notify(RelayChangedEvent{Relay: i, State: state})
		}
		return true

	case d.currentIs(WriteRelayMask):
		if len(unit.Values) != 2 {
			return true
		}
		d.mu.Lock()
		mask := d.pendingMask
		d.pendingMask = nil
		var states [maxRelays]bool
		if mask != nil {
			states = applyRelayMask(*mask)
			d.relays = states
		}
		d.mu.Unlock()
		if mask != nil {
			for b := 0; b < maxRelays; b++ {
				d.notify(RelayChangedEvent{Relay: b, State: states[b]})
			}
		}
		return true
	}
	return d.Base.DefaultHandleInputRegisters(unit)
}

// currentIs is a thin readability wrapper; Base tracks the gate itself and
// only calls these handlers while it is non-Unspecified, but concrete
// drivers still need to know *which* function is current to pick a case.
func (d *Driver) currentIs(fn device.FunctionID) bool {
	return d.Base.CurrentFunction() == fn
}

func (d *Driver) notify(ev device.Notification) {
	d.Base.Emit(ev)
}
