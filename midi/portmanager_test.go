package midi

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/rs/zerolog"
)

func makeTestRoute(source, dest string, enabled bool) Route {
	route := NewRoute(NewPortID(source), NewPortID(dest))
	route.Enabled = enabled
	return route
}

func newTestManager(f *fakePorts) (*PortManager, chan midiPacket, chan EngineError) {
	packets := make(chan midiPacket, 16)
	errs := make(chan EngineError, 16)
	return NewPortManager(f, packets, errs, zerolog.Nop()), packets, errs
}

func TestNeededInputPortsFiltersEnabled(t *testing.T) {
	routes := []Route{
		makeTestRoute("Input A", "Output A", true),
		makeTestRoute("Input B", "Output B", false),
		makeTestRoute("Input C", "Output C", true),
	}

	needed := NeededInputPorts(routes)
	sort.Strings(needed)
	if len(needed) != 2 || needed[0] != "Input A" || needed[1] != "Input C" {
		t.Errorf("needed = %v", needed)
	}
}

func TestNeededOutputPortsFiltersEnabled(t *testing.T) {
	routes := []Route{
		makeTestRoute("Input A", "Output A", true),
		makeTestRoute("Input B", "Output B", false),
	}

	needed := NeededOutputPorts(routes)
	if len(needed) != 1 || needed[0] != "Output A" {
		t.Errorf("needed = %v", needed)
	}
}

func TestNeededPortsDeduplicate(t *testing.T) {
	routes := []Route{
		makeTestRoute("Input A", "Output A", true),
		makeTestRoute("Input A", "Output B", true),
	}

	if needed := NeededInputPorts(routes); len(needed) != 1 {
		t.Errorf("needed inputs = %v", needed)
	}
	if needed := NeededOutputPorts(routes); len(needed) != 2 {
		t.Errorf("needed outputs = %v", needed)
	}
}

func TestNeededPortsEmpty(t *testing.T) {
	if needed := NeededInputPorts(nil); len(needed) != 0 {
		t.Errorf("needed = %v", needed)
	}
	routes := []Route{makeTestRoute("A", "B", false)}
	if needed := NeededInputPorts(routes); len(needed) != 0 {
		t.Errorf("needed = %v", needed)
	}
	if needed := NeededOutputPorts(routes); len(needed) != 0 {
		t.Errorf("needed = %v", needed)
	}
}

func TestSyncWithRoutesOpensAndCloses(t *testing.T) {
	f := newFakePorts("A", "B", "C")
	m, _, _ := newTestManager(f)

	m.SyncWithRoutes([]Route{makeTestRoute("A", "B", true)})
	if !f.inputOpen("A") || !f.outputOpen("B") {
		t.Fatal("expected A input and B output open")
	}

	m.SyncWithRoutes([]Route{makeTestRoute("C", "B", true)})
	if f.inputOpen("A") {
		t.Error("A should have been closed")
	}
	if !f.inputOpen("C") || !f.outputOpen("B") {
		t.Error("expected C input and B output open")
	}

	m.SyncWithRoutes(nil)
	if f.inputOpen("C") || f.outputOpen("B") {
		t.Error("expected everything closed")
	}
}

func TestSyncSkipsAbsentPortsSilently(t *testing.T) {
	f := newFakePorts()
	m, _, errs := newTestManager(f)

	m.SyncWithRoutes([]Route{makeTestRoute("Nonexistent In", "Nonexistent Out", true)})

	select {
	case err := <-errs:
		t.Errorf("absent ports should not report errors, got %v", err)
	default:
	}
}

func TestSyncReportsOpenFailures(t *testing.T) {
	f := newFakePorts("A", "B")
	f.failing["A"] = errors.New("device busy")
	m, _, errs := newTestManager(f)

	m.SyncWithRoutes([]Route{makeTestRoute("A", "B", true)})

	select {
	case err := <-errs:
		if err.Kind != ErrPortConnectionFailed || err.Port != "A" {
			t.Errorf("unexpected error %+v", err)
		}
	default:
		t.Fatal("expected a connection failure report")
	}
	// The rest of the sync proceeded.
	if !f.outputOpen("B") {
		t.Error("B should still have been opened")
	}
}

func TestInputCallbackForwardsPackets(t *testing.T) {
	f := newFakePorts("A", "B")
	m, packets, _ := newTestManager(f)

	m.SyncWithRoutes([]Route{makeTestRoute("A", "B", true)})
	f.emit(t, "A", 7, []byte{0x90, 60, 100})

	select {
	case pkt := <-packets:
		if pkt.port != "A" || pkt.timestamp != 7 || !bytes.Equal(pkt.bytes, []byte{0x90, 60, 100}) {
			t.Errorf("packet = %+v", pkt)
		}
	default:
		t.Fatal("expected a packet")
	}
}

func TestInputCallbackDropsWhenQueueFull(t *testing.T) {
	f := newFakePorts("A", "B")
	packets := make(chan midiPacket, 1)
	errs := make(chan EngineError, 1)
	m := NewPortManager(f, packets, errs, zerolog.Nop())

	m.SyncWithRoutes([]Route{makeTestRoute("A", "B", true)})

	// Second emit must not block even though the queue is full.
	f.emit(t, "A", 1, []byte{0x90, 60, 100})
	f.emit(t, "A", 2, []byte{0x90, 61, 100})

	pkt := <-packets
	if pkt.timestamp != 1 {
		t.Errorf("kept packet = %+v", pkt)
	}
	select {
	case pkt := <-packets:
		t.Errorf("expected second packet dropped, got %+v", pkt)
	default:
	}
}

func TestSendToMissingPort(t *testing.T) {
	f := newFakePorts()
	m, _, _ := newTestManager(f)

	err := m.SendTo("Nonexistent Port", []byte{0x90, 60, 100})
	var engErr EngineError
	if !errors.As(err, &engErr) || engErr.Kind != ErrSendFailed {
		t.Errorf("err = %v", err)
	}
	if engErr.Reason != "Port not connected" {
		t.Errorf("reason = %q", engErr.Reason)
	}
}

func TestSendToAndSendToAll(t *testing.T) {
	f := newFakePorts("A", "B", "C")
	m, _, _ := newTestManager(f)

	routes := []Route{
		makeTestRoute("A", "B", true),
		makeTestRoute("A", "C", true),
	}
	m.SyncWithRoutes(routes)

	if err := m.SendTo("B", []byte{0x90, 60, 100}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	m.SendToAll([]byte{0xF8})

	if got := f.sentTo("B"); len(got) != 2 {
		t.Errorf("B got %v", got)
	}
	if got := f.sentTo("C"); len(got) != 1 || !bytes.Equal(got[0], []byte{0xF8}) {
		t.Errorf("C got %v", got)
	}
}

func TestSendToAllEmptyDoesNotPanic(t *testing.T) {
	f := newFakePorts()
	m, _, _ := newTestManager(f)
	m.SendToAll([]byte{0x90, 60, 100})
}

func TestClearAllClosesEverything(t *testing.T) {
	f := newFakePorts("A", "B")
	m, _, _ := newTestManager(f)

	m.SyncWithRoutes([]Route{makeTestRoute("A", "B", true)})
	m.ClearAll()

	if f.inputOpen("A") || f.outputOpen("B") {
		t.Error("expected all connections closed")
	}
	if err := m.SendTo("B", []byte{0xF8}); err == nil {
		t.Error("send after clear should fail")
	}
}
