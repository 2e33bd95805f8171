package qcontrol

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/errnie"
)

/*
NoiseModel describes the classical error characteristics of the simulated
hardware. Only readout is modelled: the control layer never sees amplitudes.
*/
type NoiseModel struct {
	// ReadoutError is the probability that a readout bit is flipped.
	ReadoutError float64
	// OneProbability is the chance an ideal readout returns 1.
	OneProbability float64
}

// SimLatency is the wall-clock time each simulated primitive takes.
// Gates overrides the pulse latency for individual gate names.
type SimLatency struct {
	Calibrate     time.Duration
	Pulse         time.Duration
	TwoQubitPulse time.Duration
	Readout       time.Duration
	Gates         map[string]time.Duration
}

func (l SimLatency) gate(gate string, fallback time.Duration) time.Duration {
	if d, ok := l.Gates[gate]; ok {
		return d
	}
	return fallback
}

// HardwareLatency matches the timings of the reference bench hardware.
var HardwareLatency = SimLatency{
	Calibrate:     10 * time.Millisecond,
	Pulse:         5 * time.Millisecond,
	TwoQubitPulse: 10 * time.Millisecond,
}

// SimCalls counts primitive invocations on a SimDriver.
type SimCalls struct {
	Calibrate     atomic.Int64
	Pulse         atomic.Int64
	TwoQubitPulse atomic.Int64
	CrossModule   atomic.Int64
	Readout       atomic.Int64
}

/*
SimDriver is an in-process Driver and Interconnect. All randomness comes
from the injected source so a seeded driver replays the same readouts.
Qubits given a script read back that script instead, cycling, with no noise.
*/
type SimDriver struct {
	mu      sync.Mutex
	rng     *rand.Rand
	noise   NoiseModel
	latency SimLatency
	scripts map[int][]int
	reads   map[int]int
	logger  *log.Logger
	Calls   SimCalls
}

type SimOption func(*SimDriver)

func WithSeed(seed int64) SimOption {
	return func(d *SimDriver) {
		d.rng = rand.New(rand.NewSource(seed))
	}
}

func WithRand(rng *rand.Rand) SimOption {
	return func(d *SimDriver) {
		d.rng = rng
	}
}

func WithNoise(noise NoiseModel) SimOption {
	return func(d *SimDriver) {
		d.noise = noise
	}
}

func WithLatency(latency SimLatency) SimOption {
	return func(d *SimDriver) {
		d.latency = latency
	}
}

// WithScript makes qubit read back bits in order, starting over at the end.
func WithScript(qubit int, bits ...int) SimOption {
	return func(d *SimDriver) {
		d.scripts[qubit] = append([]int(nil), bits...)
	}
}

// WithGateLatency sets how long pulses of the named gate take.
func WithGateLatency(gate string, latency time.Duration) SimOption {
	return func(d *SimDriver) {
		gates := make(map[string]time.Duration, len(d.latency.Gates)+1)
		for k, v := range d.latency.Gates {
			gates[k] = v
		}
		gates[gate] = latency
		d.latency.Gates = gates
	}
}

func WithSimLogger(logger *log.Logger) SimOption {
	return func(d *SimDriver) {
		d.logger = logger
	}
}

/*
NewSimDriver creates a simulated bank driver.

Parameters:
  - opts: seed, noise, latency and logger options

Returns:
  - *SimDriver: a driver seeded with 1 and fair readouts unless configured otherwise
*/
func NewSimDriver(opts ...SimOption) *SimDriver {
	d := &SimDriver{
		rng:     rand.New(rand.NewSource(1)),
		noise:   NoiseModel{OneProbability: 0.5},
		scripts: make(map[int][]int),
		reads:   make(map[int]int),
		logger:  log.Default().With("component", "simdriver"),
	}

	for _, opt := range opts {
		opt(d)
	}

	errnie.Info(
		"NewSimDriver - noise %+v, latency %+v",
		d.noise,
		d.latency,
	)

	return d
}

func (d *SimDriver) Calibrate(ctx context.Context, qubit int) error {
	d.Calls.Calibrate.Add(1)
	d.logger.Debug("calibrating", "qubit", qubit)
	return sleepCtx(ctx, d.latency.Calibrate)
}

func (d *SimDriver) Pulse(ctx context.Context, qubit int, gate string) error {
	d.Calls.Pulse.Add(1)
	d.logger.Debug("applying", "gate", gate, "qubit", qubit)
	return sleepCtx(ctx, d.latency.gate(gate, d.latency.Pulse))
}

func (d *SimDriver) TwoQubitPulse(ctx context.Context, a, b int, gate string) error {
	d.Calls.TwoQubitPulse.Add(1)
	d.logger.Debug("applying", "gate", gate, "qubits", []int{a, b})
	return sleepCtx(ctx, d.latency.gate(gate, d.latency.TwoQubitPulse))
}

func (d *SimDriver) CrossModulePulse(ctx context.Context, a, b QubitAddress, gate string) error {
	d.Calls.CrossModule.Add(1)
	d.logger.Debug("applying", "gate", gate, "from", a.String(), "to", b.String())
	return sleepCtx(ctx, d.latency.gate(gate, d.latency.TwoQubitPulse))
}

func (d *SimDriver) Readout(ctx context.Context, qubit int) (int, error) {
	d.Calls.Readout.Add(1)

	if err := sleepCtx(ctx, d.latency.Readout); err != nil {
		return 0, err
	}

	// rand.Rand is not safe for concurrent use.
	d.mu.Lock()
	if script := d.scripts[qubit]; len(script) > 0 {
		bit := script[d.reads[qubit]%len(script)]
		d.reads[qubit]++
		d.mu.Unlock()

		d.logger.Debug("measured", "qubit", qubit, "bit", bit, "scripted", true)
		return bit, nil
	}

	bit := 0
	if d.rng.Float64() < d.noise.OneProbability {
		bit = 1
	}
	if d.noise.ReadoutError > 0 && d.rng.Float64() < d.noise.ReadoutError {
		bit ^= 1
	}
	d.mu.Unlock()

	d.logger.Debug("measured", "qubit", qubit, "bit", bit)
	return bit, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
