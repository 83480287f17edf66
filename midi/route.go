package midi

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// PortID names a system MIDI endpoint. Port identity is name equality;
// system port names are not stable across device replug.
type PortID struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// NewPortID builds a PortID whose display name defaults to the name.
func NewPortID(name string) PortID {
	return PortID{Name: name, DisplayName: name}
}

// Port is one enumerated system endpoint.
type Port struct {
	ID      PortID `json:"id"`
	IsInput bool   `json:"is_input"`
}

// FilterMode selects how a ChannelFilter treats its channel set.
type FilterMode string

const (
	FilterAll    FilterMode = "all"
	FilterOnly   FilterMode = "only"
	FilterExcept FilterMode = "except"
)

// ChannelFilter decides which MIDI channels a route forwards.
// The zero value passes everything.
type ChannelFilter struct {
	Mode     FilterMode `json:"mode"`
	Channels []uint8    `json:"channels,omitempty"`
}

// Passes reports whether the given channel (0-15) clears the filter.
func (f ChannelFilter) Passes(channel uint8) bool {
	switch f.Mode {
	case FilterOnly:
		return lo.Contains(f.Channels, channel)
	case FilterExcept:
		return !lo.Contains(f.Channels, channel)
	default:
		return true
	}
}

// CCTarget is one destination of a CC mapping: a controller number and
// the channels (1-16) to emit it on.
type CCTarget struct {
	CC       uint8   `json:"cc"`
	Channels []uint8 `json:"channels"`
}

// CCMapping rewrites one source controller to an ordered list of targets.
type CCMapping struct {
	SourceCC uint8      `json:"source_cc"`
	Targets  []CCTarget `json:"targets"`
}

// Route forwards messages from a named input to a named output, filtered
// by channel and optionally rewritten by CC mappings.
type Route struct {
	ID            uuid.UUID     `json:"id"`
	Source        PortID        `json:"source"`
	Destination   PortID        `json:"destination"`
	Enabled       bool          `json:"enabled"`
	Channels      ChannelFilter `json:"channels"`
	CCPassthrough bool          `json:"cc_passthrough"`
	CCMappings    []CCMapping   `json:"cc_mappings,omitempty"`
}

// NewRoute builds an enabled route with a fresh ID, an all-pass channel
// filter and CC passthrough on.
func NewRoute(source, destination PortID) Route {
	return Route{
		ID:            uuid.New(),
		Source:        source,
		Destination:   destination,
		Enabled:       true,
		Channels:      ChannelFilter{Mode: FilterAll},
		CCPassthrough: true,
	}
}

// ChannelFromBytes extracts the channel from a packet's status byte.
// Channel messages carry it in the low nibble; system messages have none.
func ChannelFromBytes(bytes []byte) (uint8, bool) {
	if len(bytes) == 0 {
		return 0, false
	}
	status := bytes[0]
	if status >= 0x80 && status < 0xF0 {
		return status & 0x0F, true
	}
	return 0, false
}

// ShouldRoute reports whether a packet clears a route's channel filter.
// Packets without a channel (system messages, empty slices) always pass.
func ShouldRoute(bytes []byte, filter ChannelFilter) bool {
	ch, ok := ChannelFromBytes(bytes)
	if !ok {
		return true
	}
	return filter.Passes(ch)
}

// ApplyCCMappings transforms a packet per the route's CC mapping table,
// returning the packets to send in order. Non-CC packets pass through
// unchanged. A CC packet either hits the first mapping whose source
// controller matches (fanning out to every target channel with the value
// preserved), passes through when the route allows it, or is suppressed.
func ApplyCCMappings(bytes []byte, route Route) [][]byte {
	if len(bytes) < 3 || bytes[0]&0xF0 != statusControlChange {
		return [][]byte{bytes}
	}

	controller, value := bytes[1], bytes[2]
	for _, mapping := range route.CCMappings {
		if mapping.SourceCC != controller {
			continue
		}
		var out [][]byte
		for _, target := range mapping.Targets {
			for _, ch := range target.Channels {
				out = append(out, []byte{statusControlChange | coerceChannel(ch), target.CC, value})
			}
		}
		return out
	}

	if route.CCPassthrough {
		return [][]byte{bytes}
	}
	return nil
}

// coerceChannel maps a stored 1-16 channel to the 0-15 wire nibble.
// A stored 0 also lands on nibble 0.
func coerceChannel(ch uint8) byte {
	if ch > 0 {
		ch--
	}
	return ch & 0x0F
}
