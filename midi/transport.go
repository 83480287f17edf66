package midi

// MIDI system real-time status bytes.
const (
	StatusClock    byte = 0xF8 // timing clock, 24 PPQN
	StatusStart    byte = 0xFA
	StatusContinue byte = 0xFB
	StatusStop     byte = 0xFC
)

// TransportType identifies a transport message.
type TransportType int

const (
	TransportClock TransportType = iota
	TransportStart
	TransportContinue
	TransportStop
)

// IsTransportMessage reports whether the packet is a transport message
// (Clock, Start, Continue or Stop). Only the first byte is inspected.
func IsTransportMessage(bytes []byte) bool {
	if len(bytes) == 0 {
		return false
	}
	switch bytes[0] {
	case StatusClock, StatusStart, StatusContinue, StatusStop:
		return true
	}
	return false
}

// TransportTypeOf classifies the packet's transport message, if any.
func TransportTypeOf(bytes []byte) (TransportType, bool) {
	if len(bytes) == 0 {
		return 0, false
	}
	switch bytes[0] {
	case StatusClock:
		return TransportClock, true
	case StatusStart:
		return TransportStart, true
	case StatusContinue:
		return TransportContinue, true
	case StatusStop:
		return TransportStop, true
	}
	return 0, false
}

// Byte returns the status byte for this transport message.
func (t TransportType) Byte() byte {
	switch t {
	case TransportStart:
		return StatusStart
	case TransportContinue:
		return StatusContinue
	case TransportStop:
		return StatusStop
	default:
		return StatusClock
	}
}

// Bytes returns the message as a single-byte packet for sending.
func (t TransportType) Bytes() []byte {
	return []byte{t.Byte()}
}

func (t TransportType) String() string {
	switch t {
	case TransportStart:
		return "start"
	case TransportContinue:
		return "continue"
	case TransportStop:
		return "stop"
	default:
		return "clock"
	}
}
