package rtuio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultRequestTimeout is the per-request ceiling: 30s of silence before
// a request is abandoned as TimeoutError.
const DefaultRequestTimeout = 30 * time.Second

// Port is the L0 serial link adapter: it frames ADUs, writes them, and
// reads replies delimited by the RTU inter-frame silence. It holds no
// notion of a request queue — that belongs to the master (L1).
type Port struct {
	mu      sync.Mutex
	cfg     Config
	sp      serial.Port
	open    bool
	Timeout time.Duration

	// dial and listPorts are overridden in tests to substitute an in-memory
	// serial.Port for the real hardware.
	dial      func(portName string, mode *serial.Mode) (serial.Port, error)
	listPorts func() ([]string, error)
}

// New returns a closed Port for cfg. Call Validate on cfg before Open.
func New(cfg Config) *Port {
	return &Port{
		cfg:       cfg,
		Timeout:   DefaultRequestTimeout,
		dial:      serial.Open,
		listPorts: serial.GetPortsList,
	}
}

// NewWithDialer is New with the hardware-facing open/enumerate calls
// substituted — used to drive a Port (and, through it, an mbmaster.Master)
// against an in-memory stand-in device in tests instead of a real serial
// port.
func NewWithDialer(cfg Config, dial func(portName string, mode *serial.Mode) (serial.Port, error), listPorts func() ([]string, error)) *Port {
	p := New(cfg)
	p.dial = dial
	p.listPorts = listPorts
	return p
}

func (p *Port) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetParameter updates one serial parameter. Must be called while closed.
func (p *Port) SetParameter(name string, apply func(*Config)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return fmt.Errorf("rtuio: cannot set %s while port is open", name)
	}
	apply(&p.cfg)
	return p.cfg.Validate()
}

// IsOpen reports whether the underlying serial device is connected.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Open resolves the configured port name and connects. Idempotent: a
// second call while already open is a no-op.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	resolved, err := resolvePortName(p.cfg.PortName, p.listPorts)
	if err != nil {
		return err
	}
	sp, err := p.dial(resolved, p.cfg.mode())
	if err != nil {
		return err
	}
	_ = sp.SetReadTimeout(time.Duration(p.cfg.InterFrameGap() * float64(time.Second)))
	p.sp = sp
	p.open = true
	return nil
}

// Close is idempotent; closing an unopened port is a no-op. Closing
// unblocks any goroutine currently parked in Request's read loop.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	sp := p.sp
	p.sp = nil
	return sp.Close()
}

// ApplyFraming re-applies baud/parity/stopbits/databits to an already-open
// port, for mid-session parameter changes that don't require a reconnect.
func (p *Port) ApplyFraming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return ErrNotOpen
	}
	if err := p.sp.SetMode(p.cfg.mode()); err != nil {
		return err
	}
	return p.sp.SetReadTimeout(time.Duration(p.cfg.InterFrameGap() * float64(time.Second)))
}

// Request writes one ADU addressed to server and reads back the reply PDU,
// stripping address and CRC. It is not reentrant — callers (the master's
// worker) must serialize calls so only one request is ever on the wire.
func (p *Port) Request(server byte, pdu []byte) (replyPDU []byte, err error) {
	p.mu.Lock()
	sp := p.sp
	open := p.open
	timeout := p.Timeout
	p.mu.Unlock()
	if !open || sp == nil {
		return nil, ErrNotOpen
	}

	adu := BuildADU(server, pdu)
	if _, err := sp.Write(adu); err != nil {
		return nil, err
	}

	frame, err := readFrame(sp, timeout)
	if err != nil {
		return nil, err
	}

	addr, body, err := ParseADU(frame)
	if err != nil {
		return nil, err
	}
	if addr != server {
		return nil, ErrAddressMismatch
	}
	return body, nil
}

// readFrame accumulates bytes until an inter-frame silence (a zero-length
// read, since the port's read timeout is set to the inter-frame gap) or
// the overall request timeout elapses.
func readFrame(sp serial.Port, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var frame []byte
	buf := make([]byte, 256)
	for {
		n, err := sp.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if len(frame) > 0 {
				return frame, nil
			}
			if time.Now().After(deadline) {
				return nil, ErrTimeout
			}
			continue
		}
		frame = append(frame, buf[:n]...)
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
	}
}

// resolvePortName handles port discovery: if name looks like a friendly
// symlink name (e.g. "ttyMB0") under the conventional device directory,
// resolve it to the backing device node. Anything else (an absolute path,
// a COM name) passes through unchanged provided it exists in the system's
// port list.
func resolvePortName(name string, listPorts func() ([]string, error)) (string, error) {
	if name == "" {
		return "", ErrNoPortMatch
	}
	const devDir = "/dev"
	candidate := filepath.Join(devDir, name)
	if fi, err := os.Lstat(candidate); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			resolved, err := os.Readlink(candidate)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(devDir, resolved)
			}
			return resolved, nil
		}
		return candidate, nil
	}

	ports, err := listPorts()
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if port == name {
			return name, nil
		}
	}
	return "", ErrNoPortMatch
}
