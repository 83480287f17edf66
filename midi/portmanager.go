package midi

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// midiPacket is one inbound packet handed from a driver callback to the
// engine goroutine.
type midiPacket struct {
	port      string
	timestamp int64
	bytes     []byte
}

// PortManager owns the open input and output connections and keeps them
// reconciled with the enabled routes. The engine goroutine is its sole
// caller; driver callbacks only touch the packet channel it hands out.
type PortManager struct {
	log     zerolog.Logger
	opener  PortOpener
	inputs  map[string]Input
	outputs map[string]Output
	packets chan<- midiPacket
	errs    chan<- EngineError
}

func NewPortManager(opener PortOpener, packets chan<- midiPacket, errs chan<- EngineError, log zerolog.Logger) *PortManager {
	return &PortManager{
		log:     log,
		opener:  opener,
		inputs:  make(map[string]Input),
		outputs: make(map[string]Output),
		packets: packets,
		errs:    errs,
	}
}

// NeededInputPorts returns the source ports referenced by enabled routes.
func NeededInputPorts(routes []Route) []string {
	return lo.Uniq(lo.FilterMap(routes, func(r Route, _ int) (string, bool) {
		return r.Source.Name, r.Enabled
	}))
}

// NeededOutputPorts returns the destination ports referenced by enabled routes.
func NeededOutputPorts(routes []Route) []string {
	return lo.Uniq(lo.FilterMap(routes, func(r Route, _ int) (string, bool) {
		return r.Destination.Name, r.Enabled
	}))
}

// SyncWithRoutes reconciles the open connection set with the given
// routes: connections no longer referenced are closed, missing ones are
// opened. Open failures are reported and the rest of the sync proceeds.
func (m *PortManager) SyncWithRoutes(routes []Route) {
	m.syncInputs(NeededInputPorts(routes))
	m.syncOutputs(NeededOutputPorts(routes))
}

func (m *PortManager) syncInputs(needed []string) {
	for name, conn := range m.inputs {
		if lo.Contains(needed, name) {
			continue
		}
		conn.Close()
		delete(m.inputs, name)
		m.log.Debug().Str("port", name).Msg("input disconnected")
	}

	for _, name := range needed {
		if _, ok := m.inputs[name]; ok {
			continue
		}
		m.connectInput(name)
	}
}

func (m *PortManager) syncOutputs(needed []string) {
	for name, conn := range m.outputs {
		if lo.Contains(needed, name) {
			continue
		}
		conn.Close()
		delete(m.outputs, name)
		m.log.Debug().Str("port", name).Msg("output disconnected")
	}

	for _, name := range needed {
		if _, ok := m.outputs[name]; ok {
			continue
		}
		m.connectOutput(name)
	}
}

func (m *PortManager) connectInput(name string) {
	packets := m.packets
	conn, err := m.opener.OpenInput(name, func(timestampMS int32, bytes []byte) {
		// Driver thread: own the buffer, never block. A full queue
		// drops the packet.
		pkt := midiPacket{
			port:      name,
			timestamp: int64(timestampMS),
			bytes:     append([]byte(nil), bytes...),
		}
		select {
		case packets <- pkt:
		default:
		}
	})
	if errors.Is(err, ErrPortNotFound) {
		m.log.Debug().Str("port", name).Msg("input absent, skipping")
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Str("port", name).Msg("input connection failed")
		m.reportError(EngineError{Kind: ErrPortConnectionFailed, Port: name, Reason: err.Error()})
		return
	}
	m.inputs[name] = conn
}

func (m *PortManager) connectOutput(name string) {
	conn, err := m.opener.OpenOutput(name)
	if errors.Is(err, ErrPortNotFound) {
		m.log.Debug().Str("port", name).Msg("output absent, skipping")
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Str("port", name).Msg("output connection failed")
		m.reportError(EngineError{Kind: ErrPortConnectionFailed, Port: name, Reason: err.Error()})
		return
	}
	m.outputs[name] = conn
}

// SendTo forwards bytes to a named output. The returned error is an
// EngineError suitable for publishing.
func (m *PortManager) SendTo(name string, bytes []byte) error {
	conn, ok := m.outputs[name]
	if !ok {
		return EngineError{Kind: ErrSendFailed, Port: name, Reason: "Port not connected"}
	}
	if err := conn.Send(bytes); err != nil {
		return EngineError{Kind: ErrSendFailed, Port: name, Reason: err.Error()}
	}
	return nil
}

// SendToAll broadcasts bytes to every open output. Used for clock and
// transport; per-port errors are logged, not surfaced.
func (m *PortManager) SendToAll(bytes []byte) {
	for name, conn := range m.outputs {
		if err := conn.Send(bytes); err != nil {
			m.log.Warn().Err(err).Str("port", name).Msg("broadcast send failed")
		}
	}
}

// ClearAll closes every connection. Used by the port-refresh command so
// the OS can re-enumerate, and on engine shutdown.
func (m *PortManager) ClearAll() {
	m.log.Debug().
		Int("inputs", len(m.inputs)).
		Int("outputs", len(m.outputs)).
		Msg("clearing connections")
	for name, conn := range m.inputs {
		conn.Close()
		delete(m.inputs, name)
	}
	for name, conn := range m.outputs {
		conn.Close()
		delete(m.outputs, name)
	}
}

func (m *PortManager) reportError(err EngineError) {
	select {
	case m.errs <- err:
	default:
	}
}
