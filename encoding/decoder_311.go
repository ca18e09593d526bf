package encoding

import "io"

// MQTT 3.1.1 Packet Decoders
//
// Each Decode function takes the already-parsed fixed header (from
// ParseFixedHeader311) and a reader positioned at the start of the
// variable header, mirroring the field order of the matching Encode
// method in encoder_311.go.

// DecodeConnectPacket311 decodes an MQTT 3.1.1 CONNECT packet.
func DecodeConnectPacket311(fh *FixedHeader, r io.Reader) (*ConnectPacket311, error) {
	p := &ConnectPacket311{FixedHeader: *fh}

	protocolName, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	p.ProtocolName = protocolName

	version, err := readByte(r)
	if err != nil {
		return nil, err
	}
	p.ProtocolVersion = ProtocolVersion(version)

	connectFlags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	p.CleanSession = connectFlags&0x02 != 0
	p.WillFlag = connectFlags&0x04 != 0
	p.WillQoS = QoS((connectFlags & 0x18) >> 3)
	p.WillRetain = connectFlags&0x20 != 0
	p.PasswordFlag = connectFlags&0x40 != 0
	p.UsernameFlag = connectFlags&0x80 != 0

	if !p.WillQoS.IsValid() {
		return nil, ErrInvalidQoS
	}

	keepAlive, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	p.KeepAlive = keepAlive

	clientID, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	p.ClientID = clientID

	if p.WillFlag {
		willTopic, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		p.WillTopic = willTopic

		willPayload, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		p.WillPayload = willPayload
	}

	if p.UsernameFlag {
		username, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		p.Username = username
	}

	if p.PasswordFlag {
		password, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		p.Password = password
	}

	return p, nil
}

// DecodeConnackPacket311 decodes an MQTT 3.1.1 CONNACK packet.
func DecodeConnackPacket311(fh *FixedHeader, r io.Reader) (*ConnackPacket311, error) {
	p := &ConnackPacket311{FixedHeader: *fh}

	ackFlags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	p.SessionPresent = ackFlags&0x01 != 0

	returnCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	p.ReturnCode = returnCode

	return p, nil
}

// DecodePublishPacket311 decodes an MQTT 3.1.1 PUBLISH packet. The payload
// length is derived from the fixed header's RemainingLength minus the
// variable header bytes already consumed.
func DecodePublishPacket311(fh *FixedHeader, r io.Reader) (*PublishPacket311, error) {
	p := &PublishPacket311{FixedHeader: *fh}

	topicName, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	p.TopicName = topicName

	consumed := 2 + len(topicName)

	if fh.QoS > QoS0 {
		packetID, err := readTwoByteInt(r)
		if err != nil {
			return nil, err
		}
		p.PacketID = packetID
		consumed += 2
	}

	payloadLen := int(fh.RemainingLength) - consumed
	if payloadLen < 0 {
		return nil, ErrUnexpectedEOF
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	p.Payload = payload

	return p, nil
}

// DecodePubackPacket311 decodes an MQTT 3.1.1 PUBACK packet.
func DecodePubackPacket311(fh *FixedHeader, r io.Reader) (*PubackPacket311, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	return &PubackPacket311{FixedHeader: *fh, PacketID: packetID}, nil
}

// DecodePubrecPacket311 decodes an MQTT 3.1.1 PUBREC packet.
func DecodePubrecPacket311(fh *FixedHeader, r io.Reader) (*PubrecPacket311, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	return &PubrecPacket311{FixedHeader: *fh, PacketID: packetID}, nil
}

// DecodePubrelPacket311 decodes an MQTT 3.1.1 PUBREL packet.
func DecodePubrelPacket311(fh *FixedHeader, r io.Reader) (*PubrelPacket311, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	return &PubrelPacket311{FixedHeader: *fh, PacketID: packetID}, nil
}

// DecodePubcompPacket311 decodes an MQTT 3.1.1 PUBCOMP packet.
func DecodePubcompPacket311(fh *FixedHeader, r io.Reader) (*PubcompPacket311, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	return &PubcompPacket311{FixedHeader: *fh, PacketID: packetID}, nil
}

// DecodeSubscribePacket311 decodes an MQTT 3.1.1 SUBSCRIBE packet. Reads
// topic-filter/QoS pairs until RemainingLength is exhausted.
func DecodeSubscribePacket311(fh *FixedHeader, r io.Reader) (*SubscribePacket311, error) {
	p := &SubscribePacket311{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	p.PacketID = packetID

	consumed := 2
	for consumed < int(fh.RemainingLength) {
		topicFilter, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		consumed += 2 + len(topicFilter)

		qosByte, err := readByte(r)
		if err != nil {
			return nil, err
		}
		consumed++

		qos := QoS(qosByte & 0x03)
		if !qos.IsValid() {
			return nil, ErrInvalidQoS
		}

		p.Subscriptions = append(p.Subscriptions, Subscription311{
			TopicFilter: topicFilter,
			QoS:         qos,
		})
	}

	if len(p.Subscriptions) == 0 {
		return nil, ErrEmptySubscriptionList
	}

	return p, nil
}

// DecodeSubackPacket311 decodes an MQTT 3.1.1 SUBACK packet.
func DecodeSubackPacket311(fh *FixedHeader, r io.Reader) (*SubackPacket311, error) {
	p := &SubackPacket311{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	p.PacketID = packetID

	returnCodesLen := int(fh.RemainingLength) - 2
	if returnCodesLen < 0 {
		return nil, ErrUnexpectedEOF
	}

	returnCodes := make([]byte, returnCodesLen)
	if returnCodesLen > 0 {
		if _, err := io.ReadFull(r, returnCodes); err != nil {
			return nil, err
		}
	}
	p.ReturnCodes = returnCodes

	return p, nil
}

// DecodeUnsubscribePacket311 decodes an MQTT 3.1.1 UNSUBSCRIBE packet.
func DecodeUnsubscribePacket311(fh *FixedHeader, r io.Reader) (*UnsubscribePacket311, error) {
	p := &UnsubscribePacket311{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	p.PacketID = packetID

	consumed := 2
	for consumed < int(fh.RemainingLength) {
		topicFilter, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		consumed += 2 + len(topicFilter)
		p.TopicFilters = append(p.TopicFilters, topicFilter)
	}

	if len(p.TopicFilters) == 0 {
		return nil, ErrEmptyUnsubscribeList
	}

	return p, nil
}

// DecodeUnsubackPacket311 decodes an MQTT 3.1.1 UNSUBACK packet.
func DecodeUnsubackPacket311(fh *FixedHeader, r io.Reader) (*UnsubackPacket311, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	return &UnsubackPacket311{FixedHeader: *fh, PacketID: packetID}, nil
}

// DecodeDisconnectPacket311 decodes an MQTT 3.1.1 DISCONNECT packet. It has
// no variable header or payload.
func DecodeDisconnectPacket311(fh *FixedHeader, r io.Reader) (*DisconnectPacket311, error) {
	return &DisconnectPacket311{FixedHeader: *fh}, nil
}
