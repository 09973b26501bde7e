package rtuio

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakeSerialPort is an in-memory stand-in for go.bug.st/serial.Port: a
// byte-queue-with-deadline that plays the role of a real serial device so
// Port.Request can be exercised without hardware.
type fakeSerialPort struct {
	mu          sync.Mutex
	buf         []byte
	newData     chan struct{}
	readTimeout time.Duration
	closed      bool

	writes   [][]byte
	writeErr error
	onWrite  func(adu []byte)
}

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{newData: make(chan struct{}, 1), readTimeout: time.Second}
}

// push appends bytes a simulated device sent back, waking a pending Read.
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
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := append([]byte(nil), p...)
	f.mu.Lock()
	f.writes = append(f.writes, cp)
	f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite(cp)
	}
	return len(p), nil
}

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	select {
	case f.newData <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSerialPort) SetMode(*serial.Mode) error             { return nil }
func (f *fakeSerialPort) Drain() error                           { return nil }
func (f *fakeSerialPort) ResetInputBuffer() error                { return nil }
func (f *fakeSerialPort) ResetOutputBuffer() error               { return nil }
func (f *fakeSerialPort) SetDTR(bool) error                      { return nil }
func (f *fakeSerialPort) SetRTS(bool) error                      { return nil }
func (f *fakeSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (f *fakeSerialPort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	f.readTimeout = t
	f.mu.Unlock()
	return nil
}

// openTestPort wires a Port to a fake serial device reachable at portName,
// bypassing the real /dev resolution and hardware enumeration.
func openTestPort(cfg Config, portName string, fp *fakeSerialPort) *Port {
	return NewWithDialer(cfg,
		func(name string, mode *serial.Mode) (serial.Port, error) { return fp, nil },
		func() ([]string, error) { return []string{portName}, nil },
	)
}
