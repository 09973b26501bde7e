package rtuio

import (
	"fmt"

	"go.bug.st/serial"
)

// Parity mirrors the five parity settings a Waveshare RTU board accepts.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return "unknown"
	}
}

func (p Parity) toSerial() serial.Parity {
	switch p {
	case ParityEven:
		return serial.EvenParity
	case ParityOdd:
		return serial.OddParity
	case ParityMark:
		return serial.MarkParity
	case ParitySpace:
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// StopBits mirrors the three stop-bit settings Modbus RTU allows.
type StopBits float64

const (
	OneStopBit        StopBits = 1
	OnePointFiveStopBits StopBits = 1.5
	TwoStopBits       StopBits = 2
)

func (s StopBits) toSerial() serial.StopBits {
	switch s {
	case OnePointFiveStopBits:
		return serial.OnePointFiveStopBits
	case TwoStopBits:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// Config is the immutable-while-open serial configuration for one link.
type Config struct {
	PortName string
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
}

var validBaudRates = map[int]bool{
	4800: true, 9600: true, 19200: true, 38400: true, 57600: true, 115200: true,
}

// Validate rejects configurations the vendor boards cannot run with.
func (c Config) Validate() error {
	if !validBaudRates[c.BaudRate] {
		return fmt.Errorf("rtuio: unsupported baud rate %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("rtuio: unsupported data bits %d", c.DataBits)
	}
	switch c.StopBits {
	case OneStopBit, OnePointFiveStopBits, TwoStopBits:
	default:
		return fmt.Errorf("rtuio: unsupported stop bits %v", c.StopBits)
	}
	return nil
}

func (c Config) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity.toSerial(),
		StopBits: c.StopBits.toSerial(),
	}
}

// BaudCode maps a baud rate to the vendor UART-config register code.
func BaudCode(baud int) (byte, bool) {
	switch baud {
	case 4800:
		return 0x00, true
	case 9600:
		return 0x01, true
	case 19200:
		return 0x02, true
	case 38400:
		return 0x03, true
	case 57600:
		return 0x04, true
	case 115200:
		return 0x05, true
	default:
		return 0, false
	}
}

// ParityCode maps a parity setting to the vendor UART-config register code.
func ParityCode(p Parity) (byte, bool) {
	switch p {
	case ParityNone:
		return 0x00, true
	case ParityEven:
		return 0x01, true
	case ParityOdd:
		return 0x02, true
	default:
		return 0, false
	}
}

// charDuration is the time-on-wire of one serial character, including the
// start bit, data bits, optional parity bit and stop bits.
func (c Config) charDuration() float64 {
	bits := 1.0 + float64(c.DataBits) + float64(c.StopBits)
	if c.Parity != ParityNone {
		bits++
	}
	return bits / float64(c.BaudRate)
}

// InterFrameGap is the minimum RTU inter-frame silence (>= 3.5 character
// times), with the fixed 1.75ms floor the Modbus spec mandates above
// 19200 baud so slow USB-serial bridges still see a usable gap.
func (c Config) InterFrameGap() float64 {
	if c.BaudRate > 19200 {
		return 0.00175
	}
	gap := 3.5 * c.charDuration()
	if gap < 0.00175 {
		return 0.00175
	}
	return gap
}
