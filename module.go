package qcontrol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/errnie"
)

/*
Module owns the calibration state of one physical qubit bank and executes
gates and measurements on it through the bank's Driver.

Calibration is monotonic: a qubit, once calibrated, stays calibrated for the
module's lifetime. Gates and measurements on uncalibrated qubits never reach
the driver; what the caller sees is decided by the CalibrationPolicy.

Callers must not calibrate a qubit while a gate on the same qubit is in
flight. The flags themselves are mutex-guarded, but the pulse ordering
between the two is not defined.
*/
type Module struct {
	id        int
	numQubits int

	mu         sync.RWMutex
	calibrated []bool

	driver  Driver
	audit   AuditLog
	policy  CalibrationPolicy
	calls   *driverPipeline
	metrics *Metrics
	logger  *log.Logger

	workers  int
	pool     *Pool
	poolOnce sync.Once
	ownsPool bool
}

type ModuleOption func(*Module)

func WithNumQubits(n int) ModuleOption {
	return func(m *Module) {
		m.numQubits = n
	}
}

func WithAuditLog(audit AuditLog) ModuleOption {
	return func(m *Module) {
		m.audit = audit
	}
}

func WithMetrics(metrics *Metrics) ModuleOption {
	return func(m *Module) {
		m.metrics = metrics
	}
}

func WithPolicy(policy CalibrationPolicy) ModuleOption {
	return func(m *Module) {
		m.policy = policy
	}
}

// WithPool shares an existing fan-out pool instead of starting one per module.
func WithPool(pool *Pool) ModuleOption {
	return func(m *Module) {
		m.pool = pool
	}
}

func WithLogger(logger *log.Logger) ModuleOption {
	return func(m *Module) {
		m.logger = logger
	}
}

/*
NewModule creates a module with every qubit uncalibrated.

Parameters:
  - id: the module's identifier, immutable afterwards
  - driver: the bank's pulse driver
  - cfg: shared configuration; nil uses NewConfig
  - opts: overrides for bank size, audit sink, metrics, pool and logger

Returns:
  - *Module: the module; call Close to stop a pool it started itself
*/
func NewModule(id int, driver Driver, cfg *Config, opts ...ModuleOption) *Module {
	if cfg == nil {
		cfg = NewConfig()
	}

	m := &Module{
		id:        id,
		numQubits: cfg.NumQubits,
		driver:    driver,
		audit:     NopAuditLog{},
		policy:    cfg.CalibrationPolicy,
		calls:     newDriverPipeline(cfg),
		workers:   cfg.Workers,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.numQubits < 0 {
		m.numQubits = 0
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	m.logger = m.logger.With("module", id)
	m.calibrated = make([]bool, m.numQubits)

	errnie.Info("NewModule - id %d, qubits %d, policy %s", id, m.numQubits, m.policy)
	return m
}

func (m *Module) ID() int { return m.id }

func (m *Module) NumQubits() int { return m.numQubits }

// Calibrate runs the driver's calibration for q and marks it calibrated.
// Calibrating twice re-runs the driver call and leaves the state true.
func (m *Module) Calibrate(ctx context.Context, q int) error {
	if err := m.checkQubits(ActionCalibrate, q); err != nil {
		return err
	}

	if err := m.calls.call(ctx, func() error {
		return m.driver.Calibrate(ctx, q)
	}); err != nil {
		m.metrics.recordOp(m.id, ActionCalibrate, OutcomeError)
		m.logger.Warn("calibration failed", "qubit", q, "err", err)
		return m.qubitErr(ActionCalibrate, q, err)
	}

	m.mu.Lock()
	m.calibrated[q] = true
	m.mu.Unlock()

	m.metrics.recordOp(m.id, ActionCalibrate, OutcomeOK)
	m.appendAudit(ctx, newRecord(ActionCalibrate, m.id, q))
	return nil
}

// CalibrateAll calibrates every qubit in index order, continuing past failures.
func (m *Module) CalibrateAll(ctx context.Context) error {
	var errs []error
	for q := 0; q < m.numQubits; q++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := m.Calibrate(ctx, q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Module) IsCalibrated(q int) (bool, error) {
	if err := m.checkQubits("is_calibrated", q); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calibrated[q], nil
}

func (m *Module) CalibratedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.calibrated {
		if c {
			n++
		}
	}
	return n
}

// ApplyGate sends one single-qubit pulse to q.
func (m *Module) ApplyGate(ctx context.Context, gate string, q int) error {
	if err := m.checkQubits(ActionGate, q); err != nil {
		return err
	}

	if ok, err := m.requireCalibrated(ActionGate, q); !ok {
		return err
	}

	if err := m.calls.call(ctx, func() error {
		return m.driver.Pulse(ctx, q, gate)
	}); err != nil {
		m.metrics.recordOp(m.id, ActionGate, OutcomeError)
		return m.qubitErr(ActionGate, q, err)
	}

	m.metrics.recordOp(m.id, ActionGate, OutcomeOK)

	rec := newRecord(ActionGate, m.id, q)
	rec.Gate = gate
	m.appendAudit(ctx, rec)
	return nil
}

/*
ApplyTwoQubitGate sends one pulse spanning q1 and q2. Both qubits must be
calibrated; otherwise nothing is sent.
*/
func (m *Module) ApplyTwoQubitGate(ctx context.Context, gate string, q1, q2 int) error {
	if err := m.checkQubits(ActionTwoQubitGate, q1, q2); err != nil {
		return err
	}
	if q1 == q2 {
		return m.qubitErr(ActionTwoQubitGate, q1, ErrSameQubit)
	}

	if ok, err := m.requireCalibrated(ActionTwoQubitGate, q1, q2); !ok {
		return err
	}

	if err := m.calls.call(ctx, func() error {
		return m.driver.TwoQubitPulse(ctx, q1, q2, gate)
	}); err != nil {
		m.metrics.recordOp(m.id, ActionTwoQubitGate, OutcomeError)
		return m.qubitErr(ActionTwoQubitGate, q1, err)
	}

	m.metrics.recordOp(m.id, ActionTwoQubitGate, OutcomeOK)

	rec := newRecord(ActionTwoQubitGate, m.id, q1, q2)
	rec.Gate = gate
	m.appendAudit(ctx, rec)
	return nil
}

/*
ApplyGateParallel applies gate to every distinct qubit concurrently on the
module's worker pool and returns once all pulses have finished. Qubits that
fail do not stop the rest; they are listed in the returned *BatchError.
Every batch leaves one gate_parallel audit record naming its failures, on
top of the per-qubit gate records.
*/
func (m *Module) ApplyGateParallel(ctx context.Context, gate string, qubits []int) error {
	qubits = distinct(qubits)
	if len(qubits) == 0 {
		return nil
	}

	jobs := make([]Job, len(qubits))
	for i, q := range qubits {
		jobs[i] = Job{
			ID: fmt.Sprintf("m%d-q%d-%s", m.id, q, gate),
			Fn: func(ctx context.Context) error {
				return m.ApplyGate(ctx, gate, q)
			},
		}
	}

	errs := m.fanOutPool().Run(ctx, jobs)

	failed := make(map[int]error)
	for i, err := range errs {
		if err != nil {
			failed[qubits[i]] = err
		}
	}

	rec := newRecord(ActionGateParallel, m.id, qubits...)
	rec.Gate = gate

	if len(failed) == 0 {
		m.appendAudit(ctx, rec)
		return nil
	}

	batch := &BatchError{Failed: failed}
	rec.Failed = batch.Qubits()
	rec.Error = batch.Error()
	m.appendAudit(ctx, rec)

	m.logger.Warn("parallel gate partially failed", "gate", gate, "failed", len(failed), "of", len(qubits))
	return batch
}

/*
MeasurePhysical reads each qubit independently for every shot and returns
one tally per distinct qubit, each summing to shots.
*/
func (m *Module) MeasurePhysical(ctx context.Context, qubits []int, shots int) (map[int]Tally, error) {
	qubits = distinct(qubits)
	if err := m.checkMeasurement(ActionMeasurePhysical, qubits, shots); err != nil {
		return nil, err
	}

	if ok, err := m.requireCalibrated(ActionMeasurePhysical, qubits...); !ok {
		if err != nil {
			return nil, err
		}
		return map[int]Tally{}, nil
	}

	results := make(map[int]Tally, len(qubits))
	for _, q := range qubits {
		results[q] = NewTally()
	}

	for s := 0; s < shots; s++ {
		for _, q := range qubits {
			bit, err := m.readout(ctx, q)
			if err != nil {
				m.metrics.recordOp(m.id, ActionMeasurePhysical, OutcomeError)
				return nil, m.qubitErr(ActionMeasurePhysical, q, err)
			}
			results[q].Record(bit)
		}
	}

	m.metrics.recordOp(m.id, ActionMeasurePhysical, OutcomeOK)
	m.metrics.recordShots(m.id, ActionMeasurePhysical, shots)

	rec := newRecord(ActionMeasurePhysical, m.id, qubits...)
	rec.Shots = shots
	rec.Results = make(map[string]Tally, len(results))
	for q, t := range results {
		rec.Results[strconv.Itoa(q)] = t
	}
	m.appendAudit(ctx, rec)

	return results, nil
}

/*
MeasureLogical reads a repetition-code group once per shot and decodes each
shot by MajorityVote. The returned tally counts decoded logical bits.
Indices repeated in group are read once per occurrence.
*/
func (m *Module) MeasureLogical(ctx context.Context, group []int, shots int) (Tally, error) {
	if err := m.checkMeasurement(ActionMeasureLogical, group, shots); err != nil {
		return nil, err
	}

	if ok, err := m.requireCalibrated(ActionMeasureLogical, group...); !ok {
		if err != nil {
			return nil, err
		}
		return NewTally(), nil
	}

	result := NewTally()
	votes := make([]int, len(group))

	for s := 0; s < shots; s++ {
		for i, q := range group {
			bit, err := m.readout(ctx, q)
			if err != nil {
				m.metrics.recordOp(m.id, ActionMeasureLogical, OutcomeError)
				return nil, m.qubitErr(ActionMeasureLogical, q, err)
			}
			votes[i] = bit
		}
		result.Record(MajorityVote(votes))
	}

	m.metrics.recordOp(m.id, ActionMeasureLogical, OutcomeOK)
	m.metrics.recordShots(m.id, ActionMeasureLogical, shots)

	rec := newRecord(ActionMeasureLogical, m.id, group...)
	rec.Shots = shots
	rec.Logical = result
	m.appendAudit(ctx, rec)

	return result, nil
}

// Close stops the fan-out pool if the module started it.
func (m *Module) Close() {
	if m.ownsPool {
		m.pool.Close()
	}
}

func (m *Module) fanOutPool() *Pool {
	m.poolOnce.Do(func() {
		if m.pool == nil {
			m.pool = NewPool(context.Background(), m.workers, m.metrics)
			m.ownsPool = true
		}
	})
	return m.pool
}

func (m *Module) readout(ctx context.Context, q int) (int, error) {
	var bit int
	err := m.calls.call(ctx, func() error {
		b, err := m.driver.Readout(ctx, q)
		if err != nil {
			return err
		}
		if b != 0 && b != 1 {
			return fmt.Errorf("%w: readout returned %d", ErrDriverFailure, b)
		}
		bit = b
		return nil
	})
	return bit, err
}

func (m *Module) checkQubits(op string, qubits ...int) error {
	for _, q := range qubits {
		if q < 0 || q >= m.numQubits {
			return m.qubitErr(op, q, fmt.Errorf("%w: qubit index not in [0, %d)", ErrOutOfRange, m.numQubits))
		}
	}
	return nil
}

func (m *Module) checkMeasurement(op string, qubits []int, shots int) error {
	if shots < 1 {
		return fmt.Errorf("module %d: %s: %w (got %d)", m.id, op, ErrInvalidShots, shots)
	}
	if len(qubits) == 0 {
		return fmt.Errorf("module %d: %s: %w", m.id, op, ErrEmptyGroup)
	}
	return m.checkQubits(op, qubits...)
}

/*
requireCalibrated reports whether the operation may proceed. When it may
not, the error is nil under PolicyDrop and a *QubitError wrapping
ErrNotCalibrated otherwise.
*/
func (m *Module) requireCalibrated(op string, qubits ...int) (bool, error) {
	m.mu.RLock()
	missing := -1
	for _, q := range qubits {
		if !m.calibrated[q] {
			missing = q
			break
		}
	}
	m.mu.RUnlock()

	if missing < 0 {
		return true, nil
	}

	if m.policy == PolicyDrop {
		m.metrics.recordOp(m.id, op, OutcomeDropped)
		m.logger.Debug("dropped operation on uncalibrated qubit", "op", op, "qubit", missing)
		return false, nil
	}

	m.metrics.recordOp(m.id, op, OutcomeRejected)
	return false, m.qubitErr(op, missing, ErrNotCalibrated)
}

func (m *Module) qubitErr(op string, q int, err error) error {
	return &QubitError{ModuleID: m.id, Qubit: q, Op: op, Err: err}
}

func (m *Module) appendAudit(ctx context.Context, rec AuditRecord) {
	if err := m.audit.Append(ctx, rec); err != nil {
		m.logger.Error("audit append failed", "action", rec.Action, "err", err)
	}
}

func distinct(qubits []int) []int {
	seen := make(map[int]struct{}, len(qubits))
	out := make([]int, 0, len(qubits))
	for _, q := range qubits {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
