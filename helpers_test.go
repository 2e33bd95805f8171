package qcontrol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type pulseCall struct {
	qubits []int
	gate   string
}

// testDriver records every call and replays scripted readouts per qubit.
type testDriver struct {
	mu           sync.Mutex
	tag          int
	journal      *journal
	calibrations []int
	pulses       []pulseCall
	twoQubit     []pulseCall
	cross        []pulseCall
	readouts     map[int][]int
	readCount    map[int]int

	failCalibrate map[int]int // qubit -> remaining failures
	failPulse     map[int]int
	failCross     int
	pulseDelay    time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
	completed   atomic.Int32
}

func newTestDriver() *testDriver {
	return &testDriver{
		readouts:      make(map[int][]int),
		readCount:     make(map[int]int),
		failCalibrate: make(map[int]int),
		failPulse:     make(map[int]int),
	}
}

func (d *testDriver) script(q int, bits ...int) *testDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readouts[q] = bits
	return d
}

func (d *testDriver) Calibrate(_ context.Context, q int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calibrations = append(d.calibrations, q)
	if d.journal != nil {
		d.journal.add(fmt.Sprintf("%d:%d", d.tag, q))
	}
	if d.failCalibrate[q] > 0 {
		d.failCalibrate[q]--
		return fmt.Errorf("calibration pulse on qubit %d out of tolerance", q)
	}
	return nil
}

func (d *testDriver) Pulse(ctx context.Context, q int, gate string) error {
	now := d.inflight.Add(1)
	defer d.inflight.Add(-1)

	for {
		prev := d.maxInflight.Load()
		if now <= prev || d.maxInflight.CompareAndSwap(prev, now) {
			break
		}
	}

	if d.pulseDelay > 0 {
		if err := sleepCtx(ctx, d.pulseDelay); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.pulses = append(d.pulses, pulseCall{qubits: []int{q}, gate: gate})
	fail := d.failPulse[q] > 0
	if fail {
		d.failPulse[q]--
	}
	d.mu.Unlock()

	d.completed.Add(1)
	if fail {
		return fmt.Errorf("awg channel %d fault", q)
	}
	return nil
}

func (d *testDriver) TwoQubitPulse(_ context.Context, a, b int, gate string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.twoQubit = append(d.twoQubit, pulseCall{qubits: []int{a, b}, gate: gate})
	return nil
}

func (d *testDriver) CrossModulePulse(_ context.Context, a, b QubitAddress, gate string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cross = append(d.cross, pulseCall{qubits: []int{a.ModuleID, a.Qubit, b.ModuleID, b.Qubit}, gate: gate})
	if d.failCross > 0 {
		d.failCross--
		return fmt.Errorf("interconnect link %s-%s down", a, b)
	}
	return nil
}

func (d *testDriver) Readout(_ context.Context, q int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	script := d.readouts[q]
	if len(script) == 0 {
		return 0, nil
	}
	bit := script[d.readCount[q]%len(script)]
	d.readCount[q]++
	return bit, nil
}

func (d *testDriver) pulseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pulses)
}

func (d *testDriver) twoQubitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.twoQubit)
}

func (d *testDriver) crossCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cross)
}

func (d *testDriver) calibrationCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calibrations)
}

func (d *testDriver) readoutCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.readCount {
		n += c
	}
	return n
}

// journal is an ordered log shared between several drivers.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// memoryAudit keeps records in memory for assertions.
type memoryAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (a *memoryAudit) Append(_ context.Context, rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.records))
	for i, r := range a.records {
		out[i] = r.Action
	}
	return out
}

func testConfig(numQubits int) *Config {
	cfg := NewConfig()
	cfg.NumQubits = numQubits
	cfg.Workers = 4
	cfg.Retry.Initial = time.Millisecond
	return cfg
}

func calibrate(ctx context.Context, m *Module, qubits ...int) {
	for _, q := range qubits {
		if err := m.Calibrate(ctx, q); err != nil {
			panic(err)
		}
	}
}
