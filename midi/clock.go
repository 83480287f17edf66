package midi

import (
	"math"
	"time"
)

// PulsesPerQuarterNote is the MIDI clock rate.
const PulsesPerQuarterNote = 24

const (
	// MinBPM and MaxBPM bound the clock tempo; SetBPM clamps to them.
	MinBPM = 20.0
	MaxBPM = 300.0
)

// ClockState is the observable clock state.
type ClockState struct {
	BPM     float64 `json:"bpm"`
	Running bool    `json:"running"`
}

// ClockGenerator produces 24-PPQN clock pulses with drift compensation.
// It is not safe for concurrent use; the engine goroutine owns it.
type ClockGenerator struct {
	bpm      float64
	running  bool
	lastTick time.Time
}

// NewClockGenerator builds a stopped clock at the given tempo (clamped).
func NewClockGenerator(bpm float64) *ClockGenerator {
	return &ClockGenerator{bpm: clampBPM(bpm)}
}

func clampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

// SetBPM updates the tempo, clamped to [MinBPM, MaxBPM]. The current
// tick schedule continues.
func (c *ClockGenerator) SetBPM(bpm float64) {
	c.bpm = clampBPM(bpm)
}

func (c *ClockGenerator) BPM() float64 {
	return c.bpm
}

func (c *ClockGenerator) Running() bool {
	return c.running
}

func (c *ClockGenerator) State() ClockState {
	return ClockState{BPM: c.bpm, Running: c.running}
}

// Start runs the clock on a fresh schedule; the first tick fires
// immediately.
func (c *ClockGenerator) Start() {
	c.running = true
	c.lastTick = time.Time{}
}

// Continue runs the clock preserving the previous schedule.
func (c *ClockGenerator) Continue() {
	c.running = true
}

// Stop halts the clock.
func (c *ClockGenerator) Stop() {
	c.running = false
}

func (c *ClockGenerator) interval() time.Duration {
	return time.Duration(60.0 / c.bpm / PulsesPerQuarterNote * float64(time.Second))
}

// ShouldTick reports whether a clock pulse is due, advancing the
// schedule when it is. The schedule advances by whole intervals so
// jitter does not accumulate into tempo drift; if the engine has fallen
// more than an interval behind the next expected tick it resynchronizes
// to now instead of bursting catch-up pulses.
func (c *ClockGenerator) ShouldTick() bool {
	if !c.running {
		return false
	}

	now := time.Now()
	interval := c.interval()

	if c.lastTick.IsZero() {
		c.lastTick = now
		return true
	}
	if now.Sub(c.lastTick) < interval {
		return false
	}

	next := c.lastTick.Add(interval)
	if now.Sub(next) > interval {
		c.lastTick = now
	} else {
		c.lastTick = next
	}
	return true
}
