package midi

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBPM is the clock tempo until the first SetBPM.
const DefaultBPM = 120.0

// Queue capacities. MIDI traffic gets the deep queue; callbacks drop
// when it is full rather than block the driver thread.
const (
	cmdQueueSize   = 64
	eventQueueSize = 256
	midiQueueSize  = 1024
	errorQueueSize = 64
)

// commandWait bounds how long an idle iteration sleeps, which in turn
// bounds clock tick latency.
const commandWait = time.Millisecond

// refreshSyncTimeout bounds RefreshPortsSync.
const refreshSyncTimeout = 5 * time.Second

var (
	ErrEngineStopped    = errors.New("engine stopped")
	ErrCommandQueueFull = errors.New("command queue full")
)

// Command is a request submitted to the engine goroutine.
type Command interface{ isCommand() }

// RefreshPorts tears down all connections, rescans the OS MIDI
// subsystem and publishes a fresh PortsChangedEvent. Done, when
// non-nil, is closed once the refresh completes.
type RefreshPorts struct{ Done chan struct{} }

// SetRoutes replaces the authoritative route set and reconciles the
// open connections with it.
type SetRoutes struct{ Routes []Route }

// SetBPM changes the clock tempo (clamped to [MinBPM, MaxBPM]).
type SetBPM struct{ BPM float64 }

// SendStart starts the clock master and broadcasts MIDI Start.
type SendStart struct{}

// SendStop stops the clock master and broadcasts MIDI Stop.
type SendStop struct{}

// Shutdown terminates the engine goroutine, closing all connections.
type Shutdown struct{}

func (RefreshPorts) isCommand() {}
func (SetRoutes) isCommand()    {}
func (SetBPM) isCommand()       {}
func (SendStart) isCommand()    {}
func (SendStop) isCommand()     {}
func (Shutdown) isCommand()     {}

// Event is a notification published by the engine goroutine.
type Event interface{ isEvent() }

// PortsChangedEvent carries a fresh enumeration. Published on boot and
// after RefreshPorts; hot-plug is not auto-detected.
type PortsChangedEvent struct {
	Inputs  []Port `json:"inputs"`
	Outputs []Port `json:"outputs"`
}

// ActivityEvent carries one decoded inbound packet.
type ActivityEvent struct {
	Activity Activity `json:"activity"`
}

// ClockStateEvent carries the observable clock state.
type ClockStateEvent struct {
	State ClockState `json:"state"`
}

// ErrorEvent carries a recoverable engine fault.
type ErrorEvent struct {
	Err EngineError `json:"error"`
}

func (PortsChangedEvent) isEvent() {}
func (ActivityEvent) isEvent()     {}
func (ClockStateEvent) isEvent()   {}
func (ErrorEvent) isEvent()        {}

// Engine is the thread-safe handle to the routing/clock engine. All
// engine state lives on a single goroutine; the handle only moves
// commands in and events out over bounded channels.
type Engine struct {
	cmds   chan Command
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
}

// New spawns an engine on the registered gomidi driver.
func New() *Engine {
	d := NewDriverPorts()
	return NewWithPorts(d, d)
}

// NewWithPorts spawns an engine on the given port implementations. Tests
// substitute in-memory fakes here.
func NewWithPorts(enum Enumerator, opener PortOpener) *Engine {
	e := &Engine{
		cmds:   make(chan Command, cmdQueueSize),
		events: make(chan Event, eventQueueSize),
		done:   make(chan struct{}),
	}
	l := &engineLoop{
		log:     log.With().Str("module", "engine").Logger(),
		events:  e.events,
		enum:    enum,
		clock:   NewClockGenerator(DefaultBPM),
		packets: make(chan midiPacket, midiQueueSize),
		errs:    make(chan EngineError, errorQueueSize),
	}
	l.ports = NewPortManager(opener, l.packets, l.errs, log.With().Str("module", "ports").Logger())
	go func() {
		defer close(e.done)
		l.run(e.cmds)
	}()
	return e
}

// Send submits a command without blocking. It fails when the engine has
// stopped or the command queue is full.
func (e *Engine) Send(cmd Command) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.cmds <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Events returns the engine's event stream. Events are dropped when the
// consumer falls more than the queue capacity behind.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Done is closed when the engine goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) RefreshPorts() error {
	return e.Send(RefreshPorts{})
}

// RefreshPortsSync refreshes and waits for completion. On timeout the
// refresh still completes asynchronously.
func (e *Engine) RefreshPortsSync() error {
	done := make(chan struct{})
	if err := e.Send(RefreshPorts{Done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-time.After(refreshSyncTimeout):
		return errors.New("port refresh timed out")
	}
}

func (e *Engine) SetRoutes(routes []Route) error {
	return e.Send(SetRoutes{Routes: routes})
}

func (e *Engine) SetBPM(bpm float64) error {
	return e.Send(SetBPM{BPM: bpm})
}

func (e *Engine) SendStart() error {
	return e.Send(SendStart{})
}

func (e *Engine) SendStop() error {
	return e.Send(SendStop{})
}

// Close shuts the engine down and waits for the goroutine to exit.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		select {
		case e.cmds <- Shutdown{}:
		case <-e.done:
		}
	})
	<-e.done
	return nil
}

// engineLoop is the state owned by the engine goroutine. Nothing else
// touches it.
type engineLoop struct {
	log     zerolog.Logger
	events  chan Event
	enum    Enumerator
	ports   *PortManager
	clock   *ClockGenerator
	routes  []Route
	packets chan midiPacket
	errs    chan EngineError
}

func (l *engineLoop) run(cmds <-chan Command) {
	defer l.ports.ClearAll()

	l.publish(PortsChangedEvent{Inputs: l.enum.Inputs(), Outputs: l.enum.Outputs()})
	l.publishClockState()

	for {
		l.drainErrors()

		if l.clock.ShouldTick() {
			l.ports.SendToAll([]byte{StatusClock})
		}

		l.drainPackets()

		select {
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			if l.handleCommand(cmd) {
				return
			}
		case <-time.After(commandWait):
		}
	}
}

func (l *engineLoop) drainErrors() {
	for {
		select {
		case err := <-l.errs:
			l.publish(ErrorEvent{Err: err})
		default:
			return
		}
	}
}

func (l *engineLoop) drainPackets() {
	for {
		select {
		case pkt := <-l.packets:
			l.handlePacket(pkt)
		default:
			return
		}
	}
}

func (l *engineLoop) handlePacket(pkt midiPacket) {
	if t, ok := TransportTypeOf(pkt.bytes); ok && t != TransportClock {
		// Inbound transport drives the clock and fans out to every
		// output. Inbound 0xF8 is ignored: this engine is the master.
		before := l.clock.State()
		switch t {
		case TransportStart:
			l.clock.Start()
		case TransportContinue:
			l.clock.Continue()
		case TransportStop:
			l.clock.Stop()
		}
		if l.clock.State() != before {
			l.publishClockState()
		}
		l.ports.SendToAll(t.Bytes())
	}

	if act, ok := ParseMessage(pkt.timestamp, pkt.port, pkt.bytes); ok {
		l.publish(ActivityEvent{Activity: act})
	}

	if IsTransportMessage(pkt.bytes) {
		return
	}

	for _, route := range l.routes {
		if !route.Enabled || route.Source.Name != pkt.port {
			continue
		}
		if !ShouldRoute(pkt.bytes, route.Channels) {
			continue
		}
		for _, out := range ApplyCCMappings(pkt.bytes, route) {
			if err := l.ports.SendTo(route.Destination.Name, out); err != nil {
				var engErr EngineError
				if errors.As(err, &engErr) {
					l.publish(ErrorEvent{Err: engErr})
				}
			}
		}
	}
}

func (l *engineLoop) handleCommand(cmd Command) (shutdown bool) {
	switch cmd := cmd.(type) {
	case RefreshPorts:
		l.log.Debug().Msg("refreshing ports")
		l.ports.ClearAll()
		l.enum.Rescan()
		l.publish(PortsChangedEvent{Inputs: l.enum.Inputs(), Outputs: l.enum.Outputs()})
		if cmd.Done != nil {
			close(cmd.Done)
		}
	case SetRoutes:
		l.routes = cmd.Routes
		l.ports.SyncWithRoutes(cmd.Routes)
	case SetBPM:
		l.clock.SetBPM(cmd.BPM)
		l.publishClockState()
	case SendStart:
		l.clock.Start()
		l.publishClockState()
		l.ports.SendToAll([]byte{StatusStart})
	case SendStop:
		l.clock.Stop()
		l.publishClockState()
		l.ports.SendToAll([]byte{StatusStop})
	case Shutdown:
		l.log.Debug().Msg("shutting down")
		return true
	}
	return false
}

func (l *engineLoop) publishClockState() {
	l.publish(ClockStateEvent{State: l.clock.State()})
}

// publish never blocks; a full event queue back-pressures onto the
// consumer by dropping.
func (l *engineLoop) publish(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.log.Debug().Msg("event queue full, dropping event")
	}
}
