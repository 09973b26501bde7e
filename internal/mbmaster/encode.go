package mbmaster

import (
	"encoding/binary"
	"fmt"
)

const (
	fnReadCoils              = 0x01
	fnReadDiscreteInputs     = 0x02
	fnReadHoldingRegisters   = 0x03
	fnReadInputRegisters     = 0x04
	fnWriteSingleCoil        = 0x05
	fnWriteSingleRegister    = 0x06
	fnWriteMultipleCoils     = 0x0F
	fnWriteMultipleRegisters = 0x10
)

// readFunctionCode maps a data unit kind to the standard Modbus read
// function code.
func readFunctionCode(kind DataUnitKind) (byte, error) {
	switch kind {
	case Coils:
		return fnReadCoils, nil
	case DiscreteInputs:
		return fnReadDiscreteInputs, nil
	case HoldingRegisters:
		return fnReadHoldingRegisters, nil
	case InputRegisters:
		return fnReadInputRegisters, nil
	default:
		return 0, fmt.Errorf("mbmaster: unknown data unit kind %v", kind)
	}
}

// encodeRead builds the PDU for a ReadUnit request.
func encodeRead(unit DataUnit) ([]byte, error) {
	fn, err := readFunctionCode(unit.Kind)
	if err != nil {
		return nil, err
	}
	pdu := make([]byte, 5)
	pdu[0] = fn
	binary.BigEndian.PutUint16(pdu[1:3], unit.StartAddress)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(unit.Values)))
	return pdu, nil
}

// encodeWrite builds the PDU for a WriteUnit request. Only Coils and
// HoldingRegisters are writable through the generic abstraction; other
// kinds must go through a Raw request.
func encodeWrite(unit DataUnit) ([]byte, error) {
	switch unit.Kind {
	case Coils:
		return encodeWriteCoils(unit), nil
	case HoldingRegisters:
		return encodeWriteRegisters(unit), nil
	default:
		return nil, fmt.Errorf("mbmaster: data unit kind %v is not writable", unit.Kind)
	}
}

func encodeWriteCoils(unit DataUnit) []byte {
	if len(unit.Values) == 1 {
		value := uint16(0x0000)
		if unit.Values[0] != 0 {
			value = 0xFF00
		}
		pdu := make([]byte, 5)
		pdu[0] = fnWriteSingleCoil
		binary.BigEndian.PutUint16(pdu[1:3], unit.StartAddress)
		binary.BigEndian.PutUint16(pdu[3:5], value)
		return pdu
	}

	byteCount := (len(unit.Values) + 7) / 8
	data := make([]byte, byteCount)
	for i, v := range unit.Values {
		if v != 0 {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	pdu := make([]byte, 6+len(data))
	pdu[0] = fnWriteMultipleCoils
	binary.BigEndian.PutUint16(pdu[1:3], unit.StartAddress)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(unit.Values)))
	pdu[5] = byte(byteCount)
	copy(pdu[6:], data)
	return pdu
}

func encodeWriteRegisters(unit DataUnit) []byte {
	if len(unit.Values) == 1 {
		pdu := make([]byte, 5)
		pdu[0] = fnWriteSingleRegister
		binary.BigEndian.PutUint16(pdu[1:3], unit.StartAddress)
		binary.BigEndian.PutUint16(pdu[3:5], unit.Values[0])
		return pdu
	}

	data := make([]byte, len(unit.Values)*2)
	for i, v := range unit.Values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	pdu := make([]byte, 6+len(data))
	pdu[0] = fnWriteMultipleRegisters
	binary.BigEndian.PutUint16(pdu[1:3], unit.StartAddress)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(unit.Values)))
	pdu[5] = byte(len(data))
	copy(pdu[6:], data)
	return pdu
}
