package relaydrv

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"modbusbaby/internal/device"
	"modbusbaby/internal/mbmaster"
	"modbusbaby/internal/rtuio"
)

// fakeSerialPort is the same in-memory serial.Port stand-in rtuio's and
// mbmaster's own test packages use, duplicated here rather than exported
// so this package's tests don't reach into either one's internals.
type fakeSerialPort struct {
	mu          sync.Mutex
	buf         []byte
	newData     chan struct{}
	readTimeout time.Duration
	onWrite     func(adu []byte)
}

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{newData: make(chan struct{}, 1), readTimeout: time.Second}
}

func (f *fakeSerialPort) push(data []byte) {
	f.mu.Lock()
	f.buf = append(f.buf, data...)
	f.mu.Unlock()
	select {
	case f.newData <- struct{}{}:
	default:
	}
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.buf) > 0 {
		n := copy(p, f.buf)
		f.buf = f.buf[n:]
		f.mu.Unlock()
		return n, nil
	}
	timeout := f.readTimeout
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.newData:
		f.mu.Lock()
		n := copy(p, f.buf)
		f.buf = f.buf[n:]
		f.mu.Unlock()
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	if f.onWrite != nil {
		f.onWrite(cp)
	}
	return len(p), nil
}

func (f *fakeSerialPort) Close() error {
	select {
	case f.newData <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSerialPort) SetMode(*serial.Mode) error { return nil }
func (f *fakeSerialPort) Drain() error               { return nil }
func (f *fakeSerialPort) ResetInputBuffer() error    { return nil }
func (f *fakeSerialPort) ResetOutputBuffer() error   { return nil }
func (f *fakeSerialPort) SetDTR(bool) error          { return nil }
func (f *fakeSerialPort) SetRTS(bool) error          { return nil }
func (f *fakeSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (f *fakeSerialPort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	f.readTimeout = t
	f.mu.Unlock()
	return nil
}

// virtualRelayBoard simulates just enough of the vendor relay/DI firmware
// to drive a Driver through its full open sequence plus single-relay and
// mask writes over the fake transport: the two base-class queries, the
// three cyclic reads OnOpen schedules, and echoing WriteSingleCoil/
// WriteMultipleCoils/WriteSingleRegister requests.
type virtualRelayBoard struct {
	mu      sync.Mutex
	address byte
	fw      uint16
	relays  [maxRelays]bool
	inputs  [maxRelays]bool
	control [maxRelays]byte
}

func (v *virtualRelayBoard) reply(adu []byte) []byte {
	addr, pdu, err := rtuio.ParseADU(adu)
	if err != nil || addr != v.address || len(pdu) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	switch pdu[0] {
	case 0x03:
		regAddr := binary.BigEndian.Uint16(pdu[1:3])
		count := binary.BigEndian.Uint16(pdu[3:5])
		switch regAddr {
		case 0x8000:
			return regsReply(0x03, []uint16{v.fw})
		case 0x4000:
			return regsReply(0x03, []uint16{uint16(v.address)})
		case controlStart:
			vals := make([]uint16, count)
			for i := range vals {
				vals[i] = uint16(v.control[i])
			}
			return regsReply(0x03, vals)
		}
		return nil
	case 0x01:
		return bitsReply(0x01, v.relays[:])
	case 0x02:
		return bitsReply(0x02, v.inputs[:])
	case 0x05:
		coil := binary.BigEndian.Uint16(pdu[1:3])
		value := binary.BigEndian.Uint16(pdu[3:5])
		if int(coil) < len(v.relays) {
			v.relays[coil] = value != 0
		}
		return append([]byte{0x05}, pdu[1:]...)
	case 0x06:
		regAddr := binary.BigEndian.Uint16(pdu[1:3])
		value := binary.BigEndian.Uint16(pdu[3:5])
		if regAddr >= controlStart && int(regAddr-controlStart) < len(v.control) {
			v.control[regAddr-controlStart] = byte(value)
		}
		return append([]byte{0x06}, pdu[1:]...)
	case 0x0F:
		startAddr := binary.BigEndian.Uint16(pdu[1:3])
		count := binary.BigEndian.Uint16(pdu[3:5])
		mask := pdu[6]
		for i := 0; i < int(count) && int(startAddr)+i < len(v.relays); i++ {
			v.relays[int(startAddr)+i] = mask&(1<<uint(i)) != 0
		}
		return []byte{0x0F, pdu[1], pdu[2], pdu[3], pdu[4]}
	}
	return nil
}

func regsReply(fn byte, values []uint16) []byte {
	out := []byte{fn, byte(len(values) * 2)}
	for _, v := range values {
		out = append(out, byte(v>>8), byte(v))
	}
	return out
}

func bitsReply(fn byte, bits []bool) []byte {
	byteCount := (len(bits) + 7) / 8
	data := make([]byte, byteCount)
	for i, on := range bits {
		if on {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return append([]byte{fn, byte(byteCount)}, data...)
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := rtuio.Config{PortName: "fake0", BaudRate: 9600, DataBits: 8, StopBits: rtuio.OneStopBit, Parity: rtuio.ParityNone}
	fp := newFakeSerialPort()
	board := &virtualRelayBoard{address: 3, fw: 0x0102}
	fp.onWrite = func(adu []byte) {
		if reply := board.reply(adu); reply != nil {
			go fp.push(rtuio.BuildADU(board.address, reply))
		}
	}
	port := rtuio.NewWithDialer(cfg,
		func(name string, mode *serial.Mode) (serial.Port, error) { return fp, nil },
		func() ([]string, error) { return []string{"fake0"}, nil },
	)
	port.Timeout = 500 * time.Millisecond
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	master := mbmaster.NewWithPort(port, log)
	if err := master.Open(); err != nil {
		t.Fatalf("master.Open: %v", err)
	}
	t.Cleanup(master.Close)
	return New(master, log, board.address)
}

func waitForRelayChanged(t *testing.T, ch <-chan device.Notification, relay int, want bool, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case n := <-ch:
			if rc, ok := n.(RelayChangedEvent); ok && rc.Relay == relay && rc.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for RelayChangedEvent{Relay: %d, State: %v}", relay, want)
		}
	}
}

// openAndSettle opens the driver and drains the notifications the initial
// ReadVersion/ReadDeviceAddr/ReadControlMode/ReadRelayStatus/ReadDigitalInput
// sequence produces, so later assertions only see events caused by the call
// under test. The open sequence runs five reads back to back on the 50ms
// initial poll tick; 300ms is comfortably past that over an in-memory link.
func openAndSettle(t *testing.T, driver *Driver, notifications <-chan device.Notification) {
	t.Helper()
	driver.Open()
	time.Sleep(300 * time.Millisecond)
	for {
		select {
		case <-notifications:
		default:
			return
		}
	}
}

// Toggling a single relay through SetRelayStatus should, after a round trip
// through the master and back, land as a RelayChangedEvent and update the
// driver's own cached state.
func TestDriverOpenThenToggleRelay(t *testing.T) {
	driver := newTestDriver(t)
	notifications := driver.Notifications()
	openAndSettle(t, driver, notifications)
	t.Cleanup(driver.Close)

	if err := driver.SetRelayStatus(2, true); err != nil {
		t.Fatalf("SetRelayStatus: %v", err)
	}
	waitForRelayChanged(t, notifications, 2, true, 2*time.Second)

	state, err := driver.RelayStatus(2)
	if err != nil || !state {
		t.Fatalf("RelayStatus(2) = %v, %v; want true, nil", state, err)
	}
}

// SetAllRelays writes an 8-bit mask via WriteMultipleCoils; the device only
// echoes start+count, so the mask is applied locally once that echo
// arrives, emitting one RelayChangedEvent per relay in index order.
func TestDriverSetAllRelaysAppliesMask(t *testing.T) {
	driver := newTestDriver(t)
	notifications := driver.Notifications()
	openAndSettle(t, driver, notifications)
	t.Cleanup(driver.Close)

	// 0x5A = 0101_1010: relays 1, 3, 4, 6 on.
	if err := driver.SetAllRelays(0x5A); err != nil {
		t.Fatalf("SetAllRelays: %v", err)
	}
	want := map[int]bool{0: false, 1: true, 2: false, 3: true, 4: true, 5: false, 6: true, 7: false}
	for relay := 0; relay < maxRelays; relay++ {
		waitForRelayChanged(t, notifications, relay, want[relay], 2*time.Second)
	}
	for relay, state := range want {
		got, err := driver.RelayStatus(relay)
		if err != nil || got != state {
			t.Fatalf("RelayStatus(%d) = %v, %v; want %v, nil", relay, got, err, state)
		}
	}
}

// A second mask write while one is already pending is rejected, matching
// the one-shot pendingMask slot's documented contract.
func TestDriverSetAllRelaysRejectsOverlap(t *testing.T) {
	driver := newTestDriver(t)
	driver.Open()
	t.Cleanup(driver.Close)

	driver.mu.Lock()
	v := byte(0)
	driver.pendingMask = &v
	driver.mu.Unlock()

	if err := driver.SetAllRelays(0xFF); err == nil {
		t.Fatalf("expected an error for an overlapping mask write")
	}
}
