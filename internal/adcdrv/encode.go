package adcdrv

// buildWriteChannelTypePDU encodes a single WriteSingleRegister channel-type
// write at 0x1000+channel.
func buildWriteChannelTypePDU(channel int, t ChannelType) []byte {
	addr := uint16(channelStart + channel)
	return []byte{0x06, byte(addr >> 8), byte(addr), 0x00, byte(t)}
}

// buildWriteChannelTypesPDU encodes the bulk WriteMultipleRegisters frame
// for all 8 channel types, same payload layout as the relay board.
func buildWriteChannelTypesPDU(types [maxChannels]ChannelType) []byte {
	pdu := make([]byte, 6+maxChannels*2)
	pdu[0] = 0x10
	pdu[1] = byte(channelStart >> 8)
	pdu[2] = byte(channelStart)
	pdu[3] = 0x00
	pdu[4] = maxChannels
	pdu[5] = maxChannels * 2
	for i, t := range types {
		pdu[6+i*2] = 0x00
		pdu[6+i*2+1] = byte(t)
	}
	return pdu
}

// decodeRawValues converts a raw register read into the verbatim float32
// values the consumer sees — no engineering-unit conversion happens here.
func decodeRawValues(values []uint16) [maxChannels]float32 {
	var out [maxChannels]float32
	for i, v := range values {
		if i >= maxChannels {
			break
		}
		out[i] = float32(v)
	}
	return out
}

// decodeChannelTypes converts a channel-type register read into typed
// values.
func decodeChannelTypes(values []uint16) [maxChannels]ChannelType {
	var out [maxChannels]ChannelType
	for i, v := range values {
		if i >= maxChannels {
			break
		}
		out[i] = ChannelType(v)
	}
	return out
}
