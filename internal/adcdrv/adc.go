// Package adcdrv implements the L2c Waveshare 8-channel analog-input
// board driver: raw register reads exposed verbatim as float32 values,
// plus per-channel input-range configuration.
package adcdrv

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"modbusbaby/internal/device"
	"modbusbaby/internal/mbmaster"
)

// Function ids, continuing the vendor firmware's RtuCustomStart + 0x01xx
// numbering (wsanaloginmbrtu.h's TAdcFunction enum).
const (
	ReadDataValues device.FunctionID = device.CustomStart + 0x0101 + iota
	ReadChannelTypes
	WriteChannelTypes
	WriteChannelType
)

const (
	dataStart    = 0x0000
	channelStart = 0x1000
	maxChannels  = 8
)

// ChannelType is the input range each analog channel is configured for.
type ChannelType uint16

const (
	Range0to5V    ChannelType = 0
	Range1to5V    ChannelType = 1
	Range0to20mA  ChannelType = 2
	Range4to20mA  ChannelType = 3
	RangeRaw4096  ChannelType = 4
)

func (t ChannelType) String() string {
	switch t {
	case Range1to5V:
		return "1-5V"
	case Range0to20mA:
		return "0-20mA"
	case Range4to20mA:
		return "4-20mA"
	case RangeRaw4096:
		return "raw-0-4096"
	default:
		return "0-5V"
	}
}

// ChannelChangedEvent fires as soon as SetChannelType/SetChannelTypes is
// called, with or without a device write (the write's acknowledgement is
// not waited for), and for every channel on a channel-type read.
type ChannelChangedEvent struct {
	Channel int
	Type    ChannelType
}

// ValueChangedEvent fires for each raw register value read back from the
// board. Conversion to engineering units is left to the consumer — the
// core preserves the raw reading verbatim.
type ValueChangedEvent struct {
	Channel int
	Value   float32
}

func (ChannelChangedEvent) DeviceNotification() {}
func (ValueChangedEvent) DeviceNotification()   {}

// Driver is the 8-channel analog-input board. It has no relay outputs
// (MaxOutputs is 0, matching the vendor firmware).
type Driver struct {
	*device.Base
	log *logrus.Logger

	mu      sync.RWMutex
	values  [maxChannels]float32
	chTypes [maxChannels]ChannelType
}

// New wires an ADC driver to master at the given default address (the
// original firmware defaults new instances to address 1 with a 1s poll
// interval; see wsanaloginmbrtu.cpp's constructor).
func New(master *mbmaster.Master, log *logrus.Logger, address byte) *Driver {
	d := &Driver{log: log}
	d.Base = device.NewBase(master, d, log, address, 1000)
	return d
}

func (d *Driver) ID() string        { return "WMBADC:" }
func (d *Driver) MaxInputs() uint8  { return maxChannels }
func (d *Driver) MaxOutputs() uint8 { return 0 }

// OnOpen schedules the initial queries the original constructor's
// doModbusOpened() issues, in the same order.
func (d *Driver) OnOpen() {
	d.ScheduleFunction(ReadChannelTypes)
	d.ScheduleFunction(ReadDataValues)
}

// OnPollTick tops up the single cyclic read of raw values.
func (d *Driver) OnPollTick() {
	d.ScheduleFunction(ReadDataValues)
}

func (d *Driver) DispatchFunction(id device.FunctionID) {
	switch id {
	case ReadDataValues:
		d.ReadUnit(id, mbmaster.DataUnit{Kind: mbmaster.InputRegisters, StartAddress: dataStart, Values: make([]uint16, maxChannels)})
	case ReadChannelTypes:
		d.ReadUnit(id, mbmaster.DataUnit{Kind: mbmaster.HoldingRegisters, StartAddress: channelStart, Values: make([]uint16, maxChannels)})
	default:
		d.log.Warnf("%s dispatch: unscheduled function %v", d.ID(), id)
	}
}

// SetChannelType sets one channel's input range, optionally writing vendor
// register 0x1000+channel.
func (d *Driver) SetChannelType(channel int, t ChannelType, updateDevice bool) error {
	if channel < 0 || channel >= maxChannels {
		d.log.Errorf("%s invalid channel number: %d", d.ID(), channel)
		return fmt.Errorf("adcdrv: channel %d out of range", channel)
	}
	d.mu.Lock()
	d.chTypes[channel] = t
	d.mu.Unlock()

	if updateDevice {
		d.Submit(func() { d.SendRaw(WriteChannelType, buildWriteChannelTypePDU(channel, t)) })
	}
	d.notify(ChannelChangedEvent{Channel: channel, Type: t})
	return nil
}

// SetChannelTypes bulk-writes all 8 channel types via WriteMultipleRegisters.
func (d *Driver) SetChannelTypes(types [maxChannels]ChannelType, updateDevice bool) error {
	d.mu.Lock()
	d.chTypes = types
	d.mu.Unlock()

	if updateDevice {
		d.Submit(func() { d.SendRaw(WriteChannelTypes, buildWriteChannelTypesPDU(types)) })
	}
	for i, t := range types {
		d.notify(ChannelChangedEvent{Channel: i, Type: t})
	}
	return nil
}

// ChannelValue returns the last raw register value read for channel.
func (d *Driver) ChannelValue(channel int) (float32, error) {
	if channel < 0 || channel >= maxChannels {
		return 0, fmt.Errorf("adcdrv: channel %d out of range", channel)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.values[channel], nil
}

// ChannelTypeOf returns the last known input range of channel.
func (d *Driver) ChannelTypeOf(channel int) (ChannelType, error) {
	if channel < 0 || channel >= maxChannels {
		return Range0to5V, fmt.Errorf("adcdrv: channel %d out of range", channel)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chTypes[channel], nil
}

func (d *Driver) HandleCoils(mbmaster.DataUnit) bool         { return false }
func (d *Driver) HandleDiscreteInputs(mbmaster.DataUnit) bool { return false }

func (d *Driver) HandleHoldingRegisters(unit mbmaster.DataUnit) bool {
	if d.Base.CurrentFunction() == ReadChannelTypes {
		types := decodeChannelTypes(unit.Values)
		d.mu.Lock()
		d.chTypes = types
		d.mu.Unlock()
		for i := 0; i < len(unit.Values) && i < maxChannels; i++ {
			d.notify(ChannelChangedEvent{Channel: i, Type: types[i]})
		}
		return true
	}
	return d.Base.DefaultHandleHoldingRegisters(unit)
}

func (d *Driver) HandleInputRegisters(unit mbmaster.DataUnit) bool {
	if d.Base.CurrentFunction() == ReadDataValues {
		values := decodeRawValues(unit.Values)
		d.mu.Lock()
		d.values = values
		d.mu.Unlock()
		for i := 0; i < len(unit.Values) && i < maxChannels; i++ {
			d.notify(ValueChangedEvent{Channel: i, Value: values[i]})
		}
		return true
	}
	return d.Base.DefaultHandleInputRegisters(unit)
}

func (d *Driver) notify(ev device.Notification) {
	d.Base.Emit(ev)
}
