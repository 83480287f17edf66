package midi

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// VirtualPort is a same-named virtual input/output pair exposed to other
// applications. Create it before refreshing ports and the engine can
// route to and from it by name like any hardware endpoint.
type VirtualPort struct {
	name    string
	inPort  drivers.In
	outPort drivers.Out
}

// NewVirtualPort creates the virtual pair. Requires the rtmidi driver.
func NewVirtualPort(name string) (*VirtualPort, error) {
	driver, ok := drivers.Get().(*rtmididrv.Driver)
	if !ok {
		return nil, fmt.Errorf("rtmididrv driver not available")
	}

	inPort, err := driver.OpenVirtualIn(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual MIDI input port '%s': %w", name, err)
	}

	outPort, err := driver.OpenVirtualOut(name)
	if err != nil {
		inPort.Close()
		return nil, fmt.Errorf("failed to create virtual MIDI output port '%s': %w", name, err)
	}

	log.Info().Str("port", name).Msg("virtual MIDI port available")
	return &VirtualPort{
		name:    name,
		inPort:  inPort,
		outPort: outPort,
	}, nil
}

func (vp *VirtualPort) Name() string {
	return vp.name
}

func (vp *VirtualPort) Close() error {
	log.Info().Str("port", vp.name).Msg("closing virtual MIDI port")
	if err := vp.inPort.Close(); err != nil {
		vp.outPort.Close()
		return err
	}
	return vp.outPort.Close()
}
