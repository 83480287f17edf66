package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/sync/errgroup"

	"midi-router/midi"
)

var (
	listFlag    = flag.Bool("list", false, "list available MIDI ports and exit")
	bpmFlag     = flag.Float64("bpm", midi.DefaultBPM, "clock tempo in BPM (20-300)")
	clockFlag   = flag.Bool("clock", false, "start the MIDI clock master immediately")
	virtualFlag = flag.String("virtual", "", "expose a virtual MIDI port with the given name")
	debugFlag   = flag.Bool("debug", false, "enable debug logging")
)

func listPorts() {
	fmt.Println("Available MIDI Input Ports:")
	ins, err := drivers.Ins()
	if err != nil {
		zlog.Error().Err(err).Msg("error getting inputs")
		return
	}
	for i, in := range ins {
		fmt.Printf("  %d: %s\n", i, in.String())
	}

	fmt.Println("\nAvailable MIDI Output Ports:")
	outs, err := drivers.Outs()
	if err != nil {
		zlog.Error().Err(err).Msg("error getting outputs")
		return
	}
	for i, out := range outs {
		fmt.Printf("  %d: %s\n", i, out.String())
	}
}

func printEvent(log zerolog.Logger, ev midi.Event) {
	switch ev := ev.(type) {
	case midi.PortsChangedEvent:
		log.Info().
			Int("inputs", len(ev.Inputs)).
			Int("outputs", len(ev.Outputs)).
			Msg("ports changed")
	case midi.ActivityEvent:
		entry := log.Info().
			Str("port", ev.Activity.Port).
			Str("kind", string(ev.Activity.Kind)).
			Hex("raw", ev.Activity.Raw)
		if ev.Activity.Channel != nil {
			entry = entry.Uint8("channel", *ev.Activity.Channel)
		}
		entry.Msg("midi")
	case midi.ClockStateEvent:
		log.Info().
			Float64("bpm", ev.State.BPM).
			Bool("running", ev.State.Running).
			Msg("clock")
	case midi.ErrorEvent:
		log.Warn().Str("error", ev.Err.Error()).Msg("engine error")
	}
}

func run() error {
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *listFlag {
		listPorts()
		return nil
	}

	if flag.NArg() != 0 && flag.NArg() < 2 {
		return fmt.Errorf("both input and output port names are required")
	}

	if *virtualFlag != "" {
		vp, err := midi.NewVirtualPort(*virtualFlag)
		if err != nil {
			return err
		}
		defer vp.Close()
	}

	engine := midi.New()
	defer engine.Close()

	if flag.NArg() >= 2 {
		route := midi.NewRoute(midi.NewPortID(flag.Arg(0)), midi.NewPortID(flag.Arg(1)))
		if err := engine.SetRoutes([]midi.Route{route}); err != nil {
			return err
		}
		zlog.Info().
			Str("source", route.Source.Name).
			Str("destination", route.Destination.Name).
			Msg("routing")
	}

	if err := engine.SetBPM(*bpmFlag); err != nil {
		return err
	}
	if *clockFlag {
		if err := engine.SendStart(); err != nil {
			return err
		}
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-sigChan:
			zlog.Info().Msg("stopping")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		monitor := zlog.With().Str("module", "monitor").Logger()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-engine.Events():
				if !ok {
					return nil
				}
				printEvent(monitor, ev)
			}
		}
	})

	return g.Wait()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: midi-router <input-port-name> <output-port-name>")
		fmt.Println("   or: midi-router --list")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  midi-router \"MIDI Device 1\" \"MIDI Device 2\"")
		fmt.Println("  midi-router --clock --bpm 128 \"MIDI Device 1\" \"MIDI Device 2\"")
		fmt.Println("  midi-router --list")
		os.Exit(1)
	}

	if err := run(); err != nil {
		zlog.Fatal().Err(err).Msg("midi-router failed")
	}
}
