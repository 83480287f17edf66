package midi

// MIDI channel message status nibbles.
const (
	statusNoteOff         byte = 0x80
	statusNoteOn          byte = 0x90
	statusPolyAftertouch  byte = 0xA0
	statusControlChange   byte = 0xB0
	statusProgramChange   byte = 0xC0
	statusChannelPressure byte = 0xD0
	statusPitchBend       byte = 0xE0
	statusSystem          byte = 0xF0
)

// Kind names the decoded message type of an Activity record.
type Kind string

const (
	KindNoteOn         Kind = "note_on"
	KindNoteOff        Kind = "note_off"
	KindControlChange  Kind = "control_change"
	KindProgramChange  Kind = "program_change"
	KindPitchBend      Kind = "pitch_bend"
	KindAftertouch     Kind = "aftertouch"
	KindPolyAftertouch Kind = "poly_aftertouch"
	KindSysEx          Kind = "sysex"
	KindClock          Kind = "clock"
	KindStart          Kind = "start"
	KindContinue       Kind = "continue"
	KindStop           Kind = "stop"
	KindOther          Kind = "other"
)

// Activity is one decoded inbound packet, published for monitoring.
// Channel is nil for system messages. Raw always carries the bytes as
// received, whatever the Kind.
type Activity struct {
	Timestamp  int64  `json:"timestamp"`
	Port       string `json:"port"`
	Channel    *uint8 `json:"channel,omitempty"`
	Kind       Kind   `json:"kind"`
	Note       uint8  `json:"note,omitempty"`
	Velocity   uint8  `json:"velocity,omitempty"`
	Controller uint8  `json:"controller,omitempty"`
	Value      uint8  `json:"value,omitempty"`
	Program    uint8  `json:"program,omitempty"`
	Bend       uint16 `json:"bend,omitempty"`
	Pressure   uint8  `json:"pressure,omitempty"`
	Raw        []byte `json:"raw"`
}

// ParseMessage decodes a raw packet into an Activity record. It returns
// false for empty, truncated or unrecognized packets; those still get
// routed on their raw bytes, they just produce no monitor entry.
func ParseMessage(timestamp int64, port string, bytes []byte) (Activity, bool) {
	if len(bytes) == 0 {
		return Activity{}, false
	}

	act := Activity{
		Timestamp: timestamp,
		Port:      port,
		Raw:       bytes,
	}

	status := bytes[0]
	if status < 0x80 {
		// Stray data byte, nothing to decode.
		return Activity{}, false
	}

	if status >= statusSystem {
		switch status {
		case StatusClock:
			act.Kind = KindClock
		case StatusStart:
			act.Kind = KindStart
		case StatusContinue:
			act.Kind = KindContinue
		case StatusStop:
			act.Kind = KindStop
		case 0xFE, 0xFF: // active sensing, reset
			act.Kind = KindOther
		default:
			if status > 0xF7 {
				// 0xF9/0xFD are unassigned.
				return Activity{}, false
			}
			act.Kind = KindSysEx
		}
		return act, true
	}

	ch := status & 0x0F
	act.Channel = &ch

	switch status & 0xF0 {
	case statusNoteOff:
		if len(bytes) < 3 {
			return Activity{}, false
		}
		act.Kind = KindNoteOff
		act.Note, act.Velocity = bytes[1], bytes[2]
	case statusNoteOn:
		if len(bytes) < 3 {
			return Activity{}, false
		}
		act.Kind = KindNoteOn
		act.Note, act.Velocity = bytes[1], bytes[2]
	case statusPolyAftertouch:
		if len(bytes) < 3 {
			return Activity{}, false
		}
		act.Kind = KindPolyAftertouch
		act.Note, act.Pressure = bytes[1], bytes[2]
	case statusControlChange:
		if len(bytes) < 3 {
			return Activity{}, false
		}
		act.Kind = KindControlChange
		act.Controller, act.Value = bytes[1], bytes[2]
	case statusProgramChange:
		if len(bytes) < 2 {
			return Activity{}, false
		}
		act.Kind = KindProgramChange
		act.Program = bytes[1]
	case statusChannelPressure:
		if len(bytes) < 2 {
			return Activity{}, false
		}
		act.Kind = KindAftertouch
		act.Pressure = bytes[1]
	case statusPitchBend:
		if len(bytes) < 3 {
			return Activity{}, false
		}
		act.Kind = KindPitchBend
		act.Bend = uint16(bytes[1]&0x7F) | uint16(bytes[2]&0x7F)<<7
	}

	return act, true
}
