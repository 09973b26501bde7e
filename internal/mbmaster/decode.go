package mbmaster

import "encoding/binary"

// decodeReply turns a response PDU into a typed Reply. requestFn is the
// function code of the original request (needed because an exception
// reply's own function code has the high bit set and tells us nothing
// about which request it answers).
func decodeReply(requestFn byte, respPDU []byte) Reply {
	reply := Reply{RawBytes: respPDU}
	if len(respPDU) == 0 {
		return reply
	}
	reply.FunctionCode = respPDU[0]

	if plain, code, ok := IsException(respPDU); ok {
		reply.FunctionCode = plain
		reply.IsException = true
		reply.ExceptionCode = code
		return reply
	}

	switch requestFn {
	case fnReadCoils:
		reply.DecodedUnit = decodeBits(Coils, respPDU)
	case fnReadDiscreteInputs:
		reply.DecodedUnit = decodeBits(DiscreteInputs, respPDU)
	case fnReadHoldingRegisters:
		reply.DecodedUnit = decodeRegisters(HoldingRegisters, respPDU)
	case fnReadInputRegisters:
		reply.DecodedUnit = decodeRegisters(InputRegisters, respPDU)
	case fnWriteSingleCoil, fnWriteSingleRegister, fnWriteMultipleCoils, fnWriteMultipleRegisters:
		reply.DecodedUnit = decodeWriteEcho(respPDU)
	}
	return reply
}

// decodeWriteEcho decodes the 4-byte address+value (single write) or
// address+count (multiple write) echo every write function code replies
// with into a 2-element DataUnit. device.Base's write-acknowledgement path
// (SetDeviceAddress's echoed register, relaydrv's UpdateRelay/
// WriteRelayStatus/WriteRelayMask) needs exactly these two fields and is
// wired to receive them through the InputRegisters handler, so the echo is
// surfaced as one here rather than forcing every write-issuing driver to
// hand-parse raw_bytes itself.
func decodeWriteEcho(pdu []byte) *DataUnit {
	if len(pdu) < 5 {
		return nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	return &DataUnit{Kind: InputRegisters, StartAddress: addr, Values: []uint16{addr, value}}
}

// decodeBits unpacks a byte-count-prefixed Coils/DiscreteInputs payload,
// LSB-first. StartAddress carries the decoded bit count — the server
// never echoes the original start address.
func decodeBits(kind DataUnitKind, pdu []byte) *DataUnit {
	if len(pdu) < 2 {
		return nil
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount {
		return nil
	}
	data := pdu[2 : 2+byteCount]
	values := make([]uint16, 0, byteCount*8)
	for i := 0; i < byteCount*8; i++ {
		bit := (data[i/8] >> uint(i%8)) & 1
		values = append(values, uint16(bit))
	}
	return &DataUnit{Kind: kind, StartAddress: uint16(len(values)), Values: values}
}

// decodeRegisters unpacks a byte-count-prefixed HoldingRegisters/
// InputRegisters payload of big-endian u16s.
func decodeRegisters(kind DataUnitKind, pdu []byte) *DataUnit {
	if len(pdu) < 2 {
		return nil
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount || byteCount%2 != 0 {
		return nil
	}
	data := pdu[2 : 2+byteCount]
	count := byteCount / 2
	values := make([]uint16, count)
	for i := 0; i < count; i++ {
		values[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	return &DataUnit{Kind: kind, StartAddress: uint16(count), Values: values}
}
