package midi

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ErrPortNotFound marks a port absent from the system enumeration.
// The port manager treats it as device-absent, not as a failure.
var ErrPortNotFound = errors.New("port not found")

// InputHandler receives each inbound packet from a driver callback. It
// runs on the driver's thread and must not block.
type InputHandler func(timestampMS int32, bytes []byte)

// Enumerator lists the system's MIDI endpoints.
type Enumerator interface {
	Inputs() []Port
	Outputs() []Port
	// Rescan gives the OS MIDI subsystem time to re-enumerate devices
	// after connections were torn down.
	Rescan()
}

// Input is an open input connection. Closing it stops the callback and
// releases the OS resource.
type Input interface {
	Close() error
}

// Output is an open output connection.
type Output interface {
	Send(bytes []byte) error
	Close() error
}

// PortOpener opens connections to named endpoints.
type PortOpener interface {
	OpenInput(name string, onMessage InputHandler) (Input, error)
	OpenOutput(name string) (Output, error)
}

// DriverPorts implements Enumerator and PortOpener on the registered
// gomidi driver.
type DriverPorts struct {
	log zerolog.Logger
}

func NewDriverPorts() *DriverPorts {
	return &DriverPorts{log: log.With().Str("module", "ports").Logger()}
}

func (d *DriverPorts) Inputs() []Port {
	ins, err := drivers.Ins()
	if err != nil {
		d.log.Error().Err(err).Msg("failed to get MIDI inputs")
		return nil
	}
	ports := make([]Port, 0, len(ins))
	for _, in := range ins {
		ports = append(ports, Port{ID: NewPortID(in.String()), IsInput: true})
	}
	return ports
}

func (d *DriverPorts) Outputs() []Port {
	outs, err := drivers.Outs()
	if err != nil {
		d.log.Error().Err(err).Msg("failed to get MIDI outputs")
		return nil
	}
	ports := make([]Port, 0, len(outs))
	for _, out := range outs {
		ports = append(ports, Port{ID: NewPortID(out.String()), IsInput: false})
	}
	return ports
}

// Rescan waits out the OS MIDI subsystem after connections were torn
// down. CoreMIDI caches the client-visible port list, so on macOS we
// wait 500 ms, poll until the device count changes (at most 1.5 s more)
// and then wait 200 ms; elsewhere a short sleep suffices. It only waits:
// it does not ask the OS to restart or re-enumerate its MIDI subsystem.
func (d *DriverPorts) Rescan() {
	if runtime.GOOS != "darwin" {
		time.Sleep(100 * time.Millisecond)
		return
	}

	before := len(d.Inputs()) + len(d.Outputs())
	time.Sleep(500 * time.Millisecond)

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(d.Inputs())+len(d.Outputs()) != before {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
}

// OpenInput opens the named input and registers the packet callback.
// Nothing is filtered: clock, SysEx and active sensing all come through.
func (d *DriverPorts) OpenInput(name string, onMessage InputHandler) (Input, error) {
	in, err := findIn(name)
	if err != nil {
		return nil, err
	}
	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("failed to open input port %q: %w", name, err)
	}

	stop, err := in.Listen(func(msg []byte, timestampms int32) {
		onMessage(timestampms, msg)
	}, drivers.ListenConfig{
		TimeCode:    true,
		ActiveSense: true,
		SysEx:       true,
	})
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("failed to listen on input port %q: %w", name, err)
	}

	d.log.Debug().Str("port", name).Msg("input connected")
	return &driverInput{in: in, stop: stop}, nil
}

// OpenOutput opens the named output.
func (d *DriverPorts) OpenOutput(name string) (Output, error) {
	out, err := findOut(name)
	if err != nil {
		return nil, err
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("failed to open output port %q: %w", name, err)
	}

	d.log.Debug().Str("port", name).Msg("output connected")
	return &driverOutput{out: out}, nil
}

func findIn(name string) (drivers.In, error) {
	ins, err := drivers.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("input %q: %w", name, ErrPortNotFound)
}

func findOut(name string) (drivers.Out, error) {
	outs, err := drivers.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI outputs: %w", err)
	}
	for _, out := range outs {
		if out.String() == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("output %q: %w", name, ErrPortNotFound)
}

type driverInput struct {
	in   drivers.In
	stop func()
}

func (c *driverInput) Close() error {
	c.stop()
	return c.in.Close()
}

type driverOutput struct {
	out drivers.Out
}

func (c *driverOutput) Send(bytes []byte) error {
	return c.out.Send(bytes)
}

func (c *driverOutput) Close() error {
	return c.out.Close()
}
