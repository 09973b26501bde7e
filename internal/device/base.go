// Package device implements the L2a device-driver base: per-device state,
// periodic status polling, and response dispatch by register type, shared
// by every concrete Waveshare Modbus RTU driver.
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"modbusbaby/internal/mbmaster"
	"modbusbaby/internal/rtuio"
)

// initialTick is the poll timer's interval while the post-open queries and
// the first OnPollTick haven't both drained yet.
const initialTick = 50 * time.Millisecond

// Base is embedded by every concrete driver. It owns the pending-function
// queue, the current-function concurrency gate, and the poll timer; a
// concrete driver only supplies Hooks and the public methods its users call.
type Base struct {
	master *mbmaster.Master
	hooks  Hooks
	log    *logrus.Logger

	notify  chan Notification
	events  <-chan mbmaster.Event
	cmd     chan func()
	stop    chan struct{}
	stopped chan struct{}

	// Run-loop-owned state: only ever written from the goroutine started
	// by Open. address, fwVersion and pollIntervalMs are also read by the
	// public accessors, so writes to them take stateMu; the rest needs no
	// lock.
	address        byte
	fwVersion      uint16
	pollIntervalMs uint32
	queue          []FunctionID
	currentFn      FunctionID
	atPollInterval bool
	timer          *time.Timer

	// stateMu guards the fields read by public accessors from arbitrary
	// goroutines (the UI) concurrently with the run loop.
	stateMu sync.RWMutex
}

// NewBase wires a driver kernel to its master. defaultAddress and
// defaultPollMs seed the per-device defaults (2000ms for the relay board,
// 1000ms for the ADC board).
func NewBase(master *mbmaster.Master, hooks Hooks, log *logrus.Logger, defaultAddress byte, defaultPollMs uint32) *Base {
	b := &Base{
		master:         master,
		hooks:          hooks,
		log:            log,
		notify:         make(chan Notification, 64),
		cmd:            make(chan func(), 16),
		address:        defaultAddress,
		pollIntervalMs: defaultPollMs,
		currentFn:      Unspecified,
	}
	return b
}

// Notifications is the event stream a UI consumes: opened/closed,
// address/interval changes, function completion, plus whatever
// domain-specific events the concrete driver layers on the same channel.
func (b *Base) Notifications() <-chan Notification { return b.notify }

// CurrentFunction returns the function id the gate is currently awaiting a
// reply for, or Unspecified if idle. A concrete driver's handler methods
// read this to tell which scheduled read or write a Received event answers.
func (b *Base) CurrentFunction() FunctionID { return b.currentFn }

// Emit lets a concrete driver publish its own domain notifications
// (relay_changed, channel_changed, ...) on the same stream as Base's own
// lifecycle events.
func (b *Base) Emit(n Notification) { b.emit(n) }

func (b *Base) emit(n Notification) {
	select {
	case b.notify <- n:
	default:
		b.log.Warnf("%s notification channel full, dropping %T", b.hooks.ID(), n)
	}
}

// Open opens the master if needed and starts this driver's run loop. If
// the master is already open, the driver proceeds exactly as if it had
// just received the Opened event — matching the original's "already open"
// fast path.
func (b *Base) Open() {
	b.events = b.master.Subscribe()
	b.stop = make(chan struct{})
	b.stopped = make(chan struct{})
	go b.run()

	if b.master.IsOpen() {
		b.submit(b.handleOpened)
		return
	}
	if err := b.master.Open(); err != nil {
		b.log.Errorf("%s open failed: %v", b.hooks.ID(), err)
	}
}

// Close stops the poll timer and clears the queue. Whether this also
// closes the master is an application policy decision; Base itself never
// does so, since other drivers may still be using the link.
func (b *Base) Close() {
	if b.stop == nil {
		return
	}
	close(b.stop)
	<-b.stopped
	b.queue = nil
}

func (b *Base) submit(f func()) { b.cmd <- f }

// Submit runs f on the driver's single run-loop goroutine, the same
// goroutine that handles incoming master events and poll ticks.
// CurrentFunction is single-writer, written only from that goroutine; a
// concrete driver's public methods (SetRelayStatus, SetChannelType, ...)
// are called from whatever goroutine the embedder runs on, so they must
// route any CurrentFunction-touching send through here rather than
// calling SendRaw/ReadUnit/WriteUnit directly.
func (b *Base) Submit(f func()) { b.submit(f) }

// IsValidModbus reports whether the underlying link is open and usable.
func (b *Base) IsValidModbus() bool { return b.master.IsOpen() }

// SetPortName changes the serial port name for the next Open.
func (b *Base) SetPortName(name string) error { return b.master.SetPortName(name) }

// SetBaudRate changes the link baud rate for the next Open.
func (b *Base) SetBaudRate(baud int) error { return b.master.SetBaudRate(baud) }

// SetParity changes the link parity for the next Open.
func (b *Base) SetParity(p rtuio.Parity) error { return b.master.SetParity(p) }

// SetDataBits changes the link data-bit count for the next Open.
func (b *Base) SetDataBits(bits int) error { return b.master.SetDataBits(bits) }

// SetStopBits changes the link stop-bit count for the next Open.
func (b *Base) SetStopBits(bits rtuio.StopBits) error { return b.master.SetStopBits(bits) }

// Address returns the driver's current Modbus slave address.
func (b *Base) Address() byte {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.address
}

// FirmwareVersion returns the last firmware-version read from the device.
func (b *Base) FirmwareVersion() uint16 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.fwVersion
}

// PollIntervalMs returns the steady-state poll interval.
func (b *Base) PollIntervalMs() uint32 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.pollIntervalMs
}

// SetPollIntervalMs changes the steady-state poll interval. Takes effect
// the next time the timer retunes after the current cycle drains.
func (b *Base) SetPollIntervalMs(ms uint32) {
	b.submit(func() {
		b.stateMu.Lock()
		changed := b.pollIntervalMs != ms
		b.pollIntervalMs = ms
		b.stateMu.Unlock()
		if changed {
			b.emit(IntervalChangedEvent{IntervalMs: ms})
		}
	})
}

// ScheduleFunction appends a function id to the pending queue; the poll
// loop drains it one at a time. Deduplication is not required. If the
// poll timer had stopped after the previous cycle drained dry, scheduling
// a fresh function restarts it.
func (b *Base) ScheduleFunction(id FunctionID) {
	b.submit(func() {
		b.queue = append(b.queue, id)
		if b.timer == nil {
			b.timer = time.NewTimer(b.tickInterval())
		}
	})
}

// SetDeviceAddress sets the local address, optionally also writing it to
// the vendor register 0x4000. A device-update write bypasses the
// pending-function queue and goes straight onto the wire, mirroring the
// original driver's direct-send path.
func (b *Base) SetDeviceAddress(addr byte, updateDevice bool) {
	b.submit(func() {
		b.stateMu.RLock()
		unchanged := b.address == addr
		b.stateMu.RUnlock()
		if unchanged {
			return
		}
		if !updateDevice {
			b.stateMu.Lock()
			b.address = addr
			b.stateMu.Unlock()
			b.emit(AddressChangedEvent{Address: addr})
			return
		}
		b.currentFn = WriteDeviceAddr
		pdu := []byte{0x06, 0x40, 0x00, 0x00, addr}
		if err := b.master.Send(b.Address(), pdu); err != nil {
			b.log.Errorf("%s set device address: %v", b.hooks.ID(), err)
			b.currentFn = Unspecified
		}
	})
}

// SetDeviceUART writes the vendor UART-config register 0x2000 with the new
// baud/parity, then updates the local serial config to match so subsequent
// requests use the new framing.
func (b *Base) SetDeviceUART(baud int, parity rtuio.Parity) error {
	baudCode, ok := rtuio.BaudCode(baud)
	if !ok {
		return fmt.Errorf("%s unsupported baud rate %d", b.hooks.ID(), baud)
	}
	parityCode, ok := rtuio.ParityCode(parity)
	if !ok {
		return fmt.Errorf("%s unsupported parity %v", b.hooks.ID(), parity)
	}
	b.submit(func() {
		b.currentFn = WriteUartParams
		pdu := []byte{0x06, 0x20, 0x00, parityCode, baudCode}
		if err := b.master.Send(b.Address(), pdu); err != nil {
			b.log.Errorf("%s set device uart: %v", b.hooks.ID(), err)
			b.currentFn = Unspecified
			return
		}
		_ = b.master.SetBaudRate(baud)
		_ = b.master.SetParity(parity)
	})
	return nil
}

// SendRaw lets a concrete driver issue a fully-formed PDU under a function
// id it owns, setting the concurrency gate first.
func (b *Base) SendRaw(fn FunctionID, pdu []byte) {
	b.currentFn = fn
	if err := b.master.Send(b.Address(), pdu); err != nil {
		b.log.Errorf("%s send: %v", b.hooks.ID(), err)
		b.currentFn = Unspecified
	}
}

// ReadUnit lets a concrete driver issue a generic read under a function id
// it owns.
func (b *Base) ReadUnit(fn FunctionID, unit mbmaster.DataUnit) {
	b.currentFn = fn
	if err := b.master.Read(b.Address(), unit); err != nil {
		b.log.Errorf("%s read: %v", b.hooks.ID(), err)
		b.currentFn = Unspecified
	}
}

// WriteUnit lets a concrete driver issue a generic write under a function
// id it owns.
func (b *Base) WriteUnit(fn FunctionID, unit mbmaster.DataUnit) {
	b.currentFn = fn
	if err := b.master.Write(b.Address(), unit); err != nil {
		b.log.Errorf("%s write: %v", b.hooks.ID(), err)
		b.currentFn = Unspecified
	}
}

// DefaultHandleHoldingRegisters recognises the two base-class queries every
// device kind supports. Concrete drivers fall back to it when their own
// switch over the current function doesn't match.
func (b *Base) DefaultHandleHoldingRegisters(unit mbmaster.DataUnit) bool {
	switch b.currentFn {
	case ReadDeviceAddr:
		if len(unit.Values) == 1 {
			b.applyLocalAddress(byte(unit.Values[0]))
		}
		return true
	case ReadVersion:
		if len(unit.Values) == 1 {
			b.stateMu.Lock()
			b.fwVersion = unit.Values[0]
			b.stateMu.Unlock()
		}
		return true
	}
	return false
}

// DefaultHandleInputRegisters recognises the echoed WriteDeviceAddr reply.
// The vendor device echoes the written register+value in the response,
// which the master decodes through the InputRegisters path because it
// arrives as a write PDU rather than a coil/register read.
func (b *Base) DefaultHandleInputRegisters(unit mbmaster.DataUnit) bool {
	if b.currentFn == WriteDeviceAddr && len(unit.Values) == 2 && unit.Values[0] == 0x4000 {
		b.applyLocalAddress(byte(unit.Values[1]))
		return true
	}
	return false
}

func (b *Base) applyLocalAddress(addr byte) {
	b.stateMu.Lock()
	changed := b.address != addr
	b.address = addr
	b.stateMu.Unlock()
	if changed {
		b.emit(AddressChangedEvent{Address: addr})
	}
}

func (b *Base) handleOpened() {
	b.currentFn = Unspecified
	b.queue = nil
	b.atPollInterval = false

	b.queue = append(b.queue, ReadVersion, ReadDeviceAddr)
	b.hooks.OnOpen()

	b.timer = time.NewTimer(initialTick)
	b.emit(OpenedEvent{})
}

func (b *Base) handleClosed() {
	b.stopTimer()
	b.queue = nil
	b.currentFn = Unspecified
	b.emit(ClosedEvent{})
}

func (b *Base) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Base) timerC() <-chan time.Time {
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

func (b *Base) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.stop:
			b.stopTimer()
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		case f := <-b.cmd:
			f()
		case <-b.timerC():
			b.onTick()
		}
	}
}

func (b *Base) handleEvent(ev mbmaster.Event) {
	switch e := ev.(type) {
	case mbmaster.OpenedEvent:
		b.handleOpened()
	case mbmaster.ClosedEvent:
		b.handleClosed()
	case mbmaster.ErrorEvent:
		if e.Server == b.Address() && b.currentFn != Unspecified {
			b.log.Warnf("%s error on %v: %s", b.hooks.ID(), b.currentFn, e.Message)
		}
	case mbmaster.ReceivedEvent:
		if e.Server == b.Address() && b.currentFn != Unspecified && e.IsDecodedAsUnit {
			b.dispatchReceived(*e.Reply.DecodedUnit)
		}
	case mbmaster.CompleteEvent:
		if e.Server == b.Address() && b.currentFn != Unspecified {
			fn := b.currentFn
			b.currentFn = Unspecified
			b.emit(CompleteEvent{Function: fn})
		}
	}
}

func (b *Base) dispatchReceived(unit mbmaster.DataUnit) {
	switch unit.Kind {
	case mbmaster.Coils:
		b.hooks.HandleCoils(unit)
	case mbmaster.DiscreteInputs:
		b.hooks.HandleDiscreteInputs(unit)
	case mbmaster.HoldingRegisters:
		b.hooks.HandleHoldingRegisters(unit)
	case mbmaster.InputRegisters:
		b.hooks.HandleInputRegisters(unit)
	}
}

func (b *Base) tickInterval() time.Duration {
	if b.atPollInterval {
		return time.Duration(b.PollIntervalMs()) * time.Millisecond
	}
	return initialTick
}

func (b *Base) onTick() {
	if b.currentFn != Unspecified {
		b.timer.Reset(b.tickInterval())
		return
	}
	if len(b.queue) == 0 {
		b.timer.Reset(b.tickInterval())
		return
	}

	fn := b.queue[0]
	b.queue = b.queue[1:]
	b.currentFn = fn
	b.dispatch(fn)

	if len(b.queue) == 0 {
		b.hooks.OnPollTick()
		b.atPollInterval = true
		if len(b.queue) == 0 {
			b.stopTimer()
			return
		}
	}
	b.timer.Reset(b.tickInterval())
}

func (b *Base) dispatch(fn FunctionID) {
	switch fn {
	case ReadVersion:
		b.SendRaw(ReadVersion, []byte{0x03, 0x80, 0x00, 0x00, 0x01})
	case ReadDeviceAddr:
		b.SendRaw(ReadDeviceAddr, []byte{0x03, 0x40, 0x00, 0x00, 0x01})
	default:
		b.hooks.DispatchFunction(fn)
	}
}
