package mbmaster

import "testing"

func TestEncodeReadBuildsBigEndianPDU(t *testing.T) {
	pdu, err := encodeRead(DataUnit{Kind: HoldingRegisters, StartAddress: 0x1000, Values: make([]uint16, 8)})
	if err != nil {
		t.Fatalf("encodeRead: %v", err)
	}
	want := []byte{fnReadHoldingRegisters, 0x10, 0x00, 0x00, 0x08}
	if string(pdu) != string(want) {
		t.Fatalf("pdu = % x, want % x", pdu, want)
	}
}

func TestEncodeReadRejectsUnknownKind(t *testing.T) {
	if _, err := encodeRead(DataUnit{Kind: DataUnitKind(99)}); err == nil {
		t.Fatalf("expected an error for an unknown data unit kind")
	}
}

func TestEncodeWriteCoilsSingle(t *testing.T) {
	pdu := encodeWriteCoils(DataUnit{Kind: Coils, StartAddress: 2, Values: []uint16{1}})
	want := []byte{fnWriteSingleCoil, 0x00, 0x02, 0xFF, 0x00}
	if string(pdu) != string(want) {
		t.Fatalf("pdu = % x, want % x", pdu, want)
	}

	pdu = encodeWriteCoils(DataUnit{Kind: Coils, StartAddress: 4, Values: []uint16{0}})
	want = []byte{fnWriteSingleCoil, 0x00, 0x04, 0x00, 0x00}
	if string(pdu) != string(want) {
		t.Fatalf("off pdu = % x, want % x", pdu, want)
	}
}

func TestEncodeWriteCoilsMultiple(t *testing.T) {
	// 0101_1010 across 8 coils starting at 0 — matches the relay board's
	// set-all-relays mask 0x5A used in the driver-level scenario.
	values := []uint16{0, 1, 0, 1, 1, 0, 1, 0}
	pdu := encodeWriteCoils(DataUnit{Kind: Coils, StartAddress: 0, Values: values})
	want := []byte{fnWriteMultipleCoils, 0x00, 0x00, 0x00, 0x08, 0x01, 0x5A}
	if string(pdu) != string(want) {
		t.Fatalf("pdu = % x, want % x", pdu, want)
	}
}

func TestEncodeWriteRegistersSingle(t *testing.T) {
	pdu := encodeWriteRegisters(DataUnit{Kind: HoldingRegisters, StartAddress: 0x1003, Values: []uint16{3}})
	want := []byte{fnWriteSingleRegister, 0x10, 0x03, 0x00, 0x03}
	if string(pdu) != string(want) {
		t.Fatalf("pdu = % x, want % x", pdu, want)
	}
}

func TestEncodeWriteRegistersMultiple(t *testing.T) {
	pdu := encodeWriteRegisters(DataUnit{Kind: HoldingRegisters, StartAddress: 0x1000, Values: []uint16{0, 1, 2}})
	want := []byte{fnWriteMultipleRegisters, 0x10, 0x00, 0x00, 0x03, 0x06, 0x00, 0x00, 0x00, 0x01, 0x00, 0x02}
	if string(pdu) != string(want) {
		t.Fatalf("pdu = % x, want % x", pdu, want)
	}
}

func TestEncodeWriteRejectsNonWritableKinds(t *testing.T) {
	if _, err := encodeWrite(DataUnit{Kind: InputRegisters, Values: []uint16{1}}); err == nil {
		t.Fatalf("expected an error writing InputRegisters")
	}
	if _, err := encodeWrite(DataUnit{Kind: DiscreteInputs, Values: []uint16{1}}); err == nil {
		t.Fatalf("expected an error writing DiscreteInputs")
	}
}

func TestDecodeReplyReadCoilsAllOff(t *testing.T) {
	// Server reply to "read 8 coils starting at 0": byte count 1, data 0x00.
	respPDU := []byte{fnReadCoils, 0x01, 0x00}
	reply := decodeReply(fnReadCoils, respPDU)
	if reply.IsException {
		t.Fatalf("unexpected exception")
	}
	if reply.DecodedUnit == nil {
		t.Fatalf("DecodedUnit is nil")
	}
	for i, v := range reply.DecodedUnit.Values {
		if v != 0 {
			t.Fatalf("coil %d = %d, want 0", i, v)
		}
	}
	if len(reply.DecodedUnit.Values) != 8 {
		t.Fatalf("decoded %d coils, want 8", len(reply.DecodedUnit.Values))
	}
}

func TestDecodeReplyReadHoldingRegisters(t *testing.T) {
	respPDU := []byte{fnReadHoldingRegisters, 0x04, 0x00, 0x01, 0x00, 0x02}
	reply := decodeReply(fnReadHoldingRegisters, respPDU)
	if reply.DecodedUnit == nil {
		t.Fatalf("DecodedUnit is nil")
	}
	want := []uint16{1, 2}
	got := reply.DecodedUnit.Values
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("values = %v, want %v", got, want)
	}
}

func TestDecodeReplyException(t *testing.T) {
	respPDU := []byte{fnReadHoldingRegisters | 0x80, 0x02}
	reply := decodeReply(fnReadHoldingRegisters, respPDU)
	if !reply.IsException {
		t.Fatalf("expected IsException true")
	}
	if reply.ExceptionCode != 0x02 {
		t.Fatalf("ExceptionCode = %#x, want 0x02", reply.ExceptionCode)
	}
	if reply.FunctionCode != fnReadHoldingRegisters {
		t.Fatalf("FunctionCode = %#x, want the plain (non-exception) code", reply.FunctionCode)
	}
}

func TestDecodeReplyWriteSingleCoilEcho(t *testing.T) {
	// Toggling a single relay on: the device echoes the request PDU back.
	respPDU := []byte{fnWriteSingleCoil, 0x00, 0x02, 0xFF, 0x00}
	reply := decodeReply(fnWriteSingleCoil, respPDU)
	if reply.DecodedUnit == nil {
		t.Fatalf("DecodedUnit is nil")
	}
	if reply.DecodedUnit.Kind != InputRegisters {
		t.Fatalf("Kind = %v, want InputRegisters (the write-echo routing kind)", reply.DecodedUnit.Kind)
	}
	want := []uint16{2, 0xFF00}
	got := reply.DecodedUnit.Values
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("values = %v, want %v", got, want)
	}
}

func TestDecodeReplyWriteMultipleCoilsEcho(t *testing.T) {
	// Setting all relays from a mask: reply confirms the start address and count.
	respPDU := []byte{fnWriteMultipleCoils, 0x00, 0x00, 0x00, 0x08}
	reply := decodeReply(fnWriteMultipleCoils, respPDU)
	if reply.DecodedUnit == nil {
		t.Fatalf("DecodedUnit is nil")
	}
	want := []uint16{0, 8}
	got := reply.DecodedUnit.Values
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("values = %v, want %v", got, want)
	}
}

func TestDecodeReplyEmptyPDU(t *testing.T) {
	reply := decodeReply(fnReadCoils, nil)
	if reply.DecodedUnit != nil || reply.IsException {
		t.Fatalf("empty PDU should decode to a zero Reply")
	}
}

func TestValidServer(t *testing.T) {
	if ValidServer(0) {
		t.Fatalf("server 0 (broadcast) should not be a valid unicast target")
	}
	if ValidServer(248) {
		t.Fatalf("server 248 is outside the 1..247 range")
	}
	if !ValidServer(1) || !ValidServer(247) {
		t.Fatalf("boundary servers 1 and 247 should be valid")
	}
}

func TestErrorKindFatalToLink(t *testing.T) {
	fatal := []ErrorKind{ErrConnection, ErrConfiguration, ErrProtocol}
	for _, k := range fatal {
		if !k.fatalToLink() {
			t.Fatalf("%v should be fatal to the link", k)
		}
	}
	recoverable := []ErrorKind{ErrRead, ErrWrite, ErrTimeout, ErrReplyAborted, ErrUnknown}
	for _, k := range recoverable {
		if k.fatalToLink() {
			t.Fatalf("%v should not be fatal to the link", k)
		}
	}
}
