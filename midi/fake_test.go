package midi

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakePorts is an in-memory Enumerator + PortOpener standing in for the
// OS MIDI layer.
type fakePorts struct {
	mu       sync.Mutex
	present  map[string]bool
	failing  map[string]error
	sendErr  map[string]error
	handlers map[string]InputHandler
	openIn   map[string]bool
	openOut  map[string]bool
	sent     map[string][][]byte
	rescans  int
}

func newFakePorts(names ...string) *fakePorts {
	f := &fakePorts{
		present:  make(map[string]bool),
		failing:  make(map[string]error),
		sendErr:  make(map[string]error),
		handlers: make(map[string]InputHandler),
		openIn:   make(map[string]bool),
		openOut:  make(map[string]bool),
		sent:     make(map[string][][]byte),
	}
	for _, name := range names {
		f.present[name] = true
	}
	return f
}

func (f *fakePorts) Inputs() []Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ports []Port
	for name := range f.present {
		ports = append(ports, Port{ID: NewPortID(name), IsInput: true})
	}
	return ports
}

func (f *fakePorts) Outputs() []Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ports []Port
	for name := range f.present {
		ports = append(ports, Port{ID: NewPortID(name), IsInput: false})
	}
	return ports
}

func (f *fakePorts) Rescan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescans++
}

func (f *fakePorts) OpenInput(name string, onMessage InputHandler) (Input, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[name]; err != nil {
		return nil, err
	}
	if !f.present[name] {
		return nil, fmt.Errorf("input %q: %w", name, ErrPortNotFound)
	}
	f.handlers[name] = onMessage
	f.openIn[name] = true
	return &fakeInput{ports: f, name: name}, nil
}

func (f *fakePorts) OpenOutput(name string) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[name]; err != nil {
		return nil, err
	}
	if !f.present[name] {
		return nil, fmt.Errorf("output %q: %w", name, ErrPortNotFound)
	}
	f.openOut[name] = true
	return &fakeOutput{ports: f, name: name}, nil
}

// emit drives the registered input callback like a driver thread would.
func (f *fakePorts) emit(t *testing.T, name string, timestampMS int32, bytes []byte) {
	t.Helper()
	f.mu.Lock()
	handler := f.handlers[name]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no input handler registered for %q", name)
	}
	handler(timestampMS, bytes)
}

func (f *fakePorts) sentTo(name string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent[name]))
	copy(out, f.sent[name])
	return out
}

func (f *fakePorts) inputOpen(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openIn[name]
}

func (f *fakePorts) outputOpen(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOut[name]
}

func (f *fakePorts) rescanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rescans
}

type fakeInput struct {
	ports *fakePorts
	name  string
}

func (c *fakeInput) Close() error {
	c.ports.mu.Lock()
	defer c.ports.mu.Unlock()
	delete(c.ports.handlers, c.name)
	c.ports.openIn[c.name] = false
	return nil
}

type fakeOutput struct {
	ports *fakePorts
	name  string
}

func (c *fakeOutput) Send(bytes []byte) error {
	c.ports.mu.Lock()
	defer c.ports.mu.Unlock()
	if err := c.ports.sendErr[c.name]; err != nil {
		return err
	}
	c.ports.sent[c.name] = append(c.ports.sent[c.name], append([]byte(nil), bytes...))
	return nil
}

func (c *fakeOutput) Close() error {
	c.ports.mu.Lock()
	defer c.ports.mu.Unlock()
	c.ports.openOut[c.name] = false
	return nil
}

// waitUntil polls cond until it holds or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// awaitEvent reads events until one matches or the timeout elapses.
func awaitEvent(t *testing.T, events <-chan Event, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}
