package relaydrv

import "modbusbaby/internal/device"

// buildSetRelayPDU encodes a single relay toggle as a WriteSingleCoil frame.
// It mirrors setRelayStatus's UpdateRelay/WriteRelayStatus function-id
// split on the 0xFF "all relays" sentinel coil — unreachable through the
// public SetRelayStatus API (relay is already bounds-checked below
// allRelaysCoil) but kept faithful to the vendor enum split.
func buildSetRelayPDU(relay int, state bool) (device.FunctionID, []byte) {
	fn := UpdateRelay
	if relay >= allRelaysCoil {
		fn = WriteRelayStatus
	}
	coil := uint16(relay)
	value := uint16(0x0000)
	if state {
		value = 0xFF00
	}
	return fn, []byte{0x05, byte(coil >> 8), byte(coil), byte(value >> 8), byte(value)}
}

// buildSetAllRelaysPDU encodes the WriteMultipleCoils frame for an 8-relay
// mask write.
func buildSetAllRelaysPDU(mask byte) []byte {
	return []byte{0x0F, 0x00, 0x00, 0x00, maxRelays, 0x01, mask}
}

// buildWriteControlModePDU encodes a single WriteSingleRegister control-mode
// write at 0x1000+relay.
func buildWriteControlModePDU(relay int, mode ControlMode) []byte {
	addr := uint16(controlStart + relay)
	return []byte{0x06, byte(addr >> 8), byte(addr), 0x00, byte(mode)}
}

// buildWriteControlModesPDU encodes the bulk WriteMultipleRegisters frame
// for all 8 control modes.
func buildWriteControlModesPDU(modes [maxRelays]ControlMode) []byte {
	pdu := make([]byte, 6+maxRelays*2)
	pdu[0] = 0x10
	pdu[1] = byte(controlStart >> 8)
	pdu[2] = byte(controlStart)
	pdu[3] = 0x00
	pdu[4] = maxRelays
	pdu[5] = maxRelays * 2
	for i, m := range modes {
		pdu[6+i*2] = 0x00
		pdu[6+i*2+1] = byte(m)
	}
	return pdu
}

// applyRelayMask turns an 8-bit mask into the ordered per-relay state slice
// a set-all-relays round trip must synthesize.
func applyRelayMask(mask byte) [maxRelays]bool {
	var out [maxRelays]bool
	for b := 0; b < maxRelays; b++ {
		out[b] = mask&(1<<uint(b)) != 0
	}
	return out
}

// decodeControlModes converts a holding-register read at 0x1000 into typed
// control modes.
func decodeControlModes(values []uint16) [maxRelays]ControlMode {
	var out [maxRelays]ControlMode
	for i, v := range values {
		if i >= maxRelays {
			break
		}
		out[i] = ControlMode(v)
	}
	return out
}

// decodeBoolUnit converts a Coils/DiscreteInputs register read (values of
// 0 or 1) into an ordered bool slice, ignoring anything past maxRelays.
func decodeBoolUnit(values []uint16) [maxRelays]bool {
	var out [maxRelays]bool
	for i, v := range values {
		if i >= maxRelays {
			break
		}
		out[i] = v == 1
	}
	return out
}
