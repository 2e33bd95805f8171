package qcontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/errnie"
	"golang.org/x/sync/errgroup"
)

/*
Cluster composes independently calibrated modules into one addressable
system. Modules are registered under their ids, which stay stable for the
cluster's lifetime; there is no removal.

Modules created through Cluster.NewModule share the cluster's audit log,
metrics and fan-out pool.
*/
type Cluster struct {
	mu      sync.RWMutex
	modules []*Module
	byID    map[int]*Module
	owned   map[int]bool

	interconnect Interconnect
	cfg          *Config
	calls        *driverPipeline
	audit        AuditLog
	metrics      *Metrics
	pool         *Pool
	logger       *log.Logger
}

type ClusterOption func(*Cluster)

func WithClusterAuditLog(audit AuditLog) ClusterOption {
	return func(c *Cluster) {
		c.audit = audit
	}
}

func WithClusterMetrics(metrics *Metrics) ClusterOption {
	return func(c *Cluster) {
		c.metrics = metrics
	}
}

func WithClusterLogger(logger *log.Logger) ClusterOption {
	return func(c *Cluster) {
		c.logger = logger
	}
}

/*
NewCluster creates an empty cluster.

Parameters:
  - interconnect: driver for pulses spanning two modules; may be nil if no cross-module gates are used
  - cfg: shared configuration; nil uses NewConfig
  - opts: audit sink, metrics and logger

Returns:
  - *Cluster: an empty cluster; call Close to stop its worker pool
*/
func NewCluster(interconnect Interconnect, cfg *Config, opts ...ClusterOption) *Cluster {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &Cluster{
		byID:         make(map[int]*Module),
		owned:        make(map[int]bool),
		interconnect: interconnect,
		cfg:          cfg,
		calls:        newDriverPipeline(cfg),
		audit:        NopAuditLog{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.Default()
	}
	c.logger = c.logger.With("component", "cluster")
	c.pool = NewPool(context.Background(), cfg.Workers, c.metrics)

	errnie.Info("NewCluster - workers %d, cross-module check %v", cfg.Workers, cfg.CrossModuleCalibrationCheck)
	return c
}

/*
NewModule creates a module whose id is the next position in the cluster
and registers it. The module shares the cluster's audit log, metrics, pool
and configuration; opts may override any of them.
*/
func (c *Cluster) NewModule(driver Driver, opts ...ModuleOption) (*Module, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := []ModuleOption{
		WithAuditLog(c.audit),
		WithMetrics(c.metrics),
		WithPool(c.pool),
		WithLogger(c.logger),
	}

	m := NewModule(len(c.modules), driver, c.cfg, append(base, opts...)...)
	if err := c.register(m); err != nil {
		return nil, err
	}
	c.owned[m.ID()] = true
	return m, nil
}

// AddModule registers m under m.ID().
func (c *Cluster) AddModule(m *Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.register(m)
}

// register assumes c.mu is held for writing.
func (c *Cluster) register(m *Module) error {
	if _, exists := c.byID[m.ID()]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateModuleID, m.ID())
	}

	c.modules = append(c.modules, m)
	c.byID[m.ID()] = m

	c.logger.Info("module added", "id", m.ID(), "qubits", m.NumQubits())
	return nil
}

func (c *Cluster) Module(id int) (*Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	return m, nil
}

// Modules returns the modules in registration order.
func (c *Cluster) Modules() []*Module {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Module, len(c.modules))
	copy(out, c.modules)
	return out
}

func (c *Cluster) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

/*
CalibrateAll calibrates every qubit of every module. Within a module qubits
go in index order. With CalibrationConcurrency 1 modules go strictly in
registration order; higher values calibrate that many modules at once.
Failures do not stop the sweep; all of them are returned joined.
*/
func (c *Cluster) CalibrateAll(ctx context.Context) error {
	modules := c.Modules()
	errs := make([]error, len(modules))

	var g errgroup.Group
	g.SetLimit(max(c.cfg.CalibrationConcurrency, 1))

	for i, m := range modules {
		g.Go(func() error {
			errs[i] = m.CalibrateAll(ctx)
			return nil
		})
	}

	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("calibration sweep finished with failures", "err", err)
		return err
	}

	c.logger.Info("calibration sweep complete", "modules", len(modules))
	return nil
}

func (c *Cluster) ApplyGate(ctx context.Context, moduleID int, gate string, q int) error {
	m, err := c.Module(moduleID)
	if err != nil {
		return err
	}
	return m.ApplyGate(ctx, gate, q)
}

func (c *Cluster) ApplyTwoQubitGate(ctx context.Context, moduleID int, gate string, q1, q2 int) error {
	m, err := c.Module(moduleID)
	if err != nil {
		return err
	}
	return m.ApplyTwoQubitGate(ctx, gate, q1, q2)
}

func (c *Cluster) ApplyGateParallel(ctx context.Context, moduleID int, gate string, qubits []int) error {
	m, err := c.Module(moduleID)
	if err != nil {
		return err
	}
	return m.ApplyGateParallel(ctx, gate, qubits)
}

/*
ApplyCrossModuleTwoQubitGate issues a single interconnect pulse between
qubit q1 of module m1 and qubit q2 of module m2. Both qubits are bounds
checked. When CrossModuleCalibrationCheck is set (the default) both must be
calibrated, exactly as for a same-module two-qubit gate; otherwise the
pulse is sent regardless of calibration state. The pulse goes through the
cluster's own retry, pulse rate limit and breaker, built from the same
Config as each module's.

Addressing the same module twice is routed to that module's own
two-qubit path.
*/
func (c *Cluster) ApplyCrossModuleTwoQubitGate(ctx context.Context, m1, q1, m2, q2 int, gate string) error {
	first, err := c.Module(m1)
	if err != nil {
		return err
	}
	second, err := c.Module(m2)
	if err != nil {
		return err
	}

	if m1 == m2 {
		return first.ApplyTwoQubitGate(ctx, gate, q1, q2)
	}

	if err := first.checkQubits(ActionCrossModuleGate, q1); err != nil {
		return err
	}
	if err := second.checkQubits(ActionCrossModuleGate, q2); err != nil {
		return err
	}

	if c.cfg.CrossModuleCalibrationCheck {
		if ok, err := first.requireCalibrated(ActionCrossModuleGate, q1); !ok {
			return err
		}
		if ok, err := second.requireCalibrated(ActionCrossModuleGate, q2); !ok {
			return err
		}
	}

	a := QubitAddress{ModuleID: m1, Qubit: q1}
	b := QubitAddress{ModuleID: m2, Qubit: q2}

	if c.interconnect == nil {
		return first.qubitErr(ActionCrossModuleGate, q1, fmt.Errorf("%w: no interconnect configured", ErrDriverFailure))
	}

	if err := c.calls.call(ctx, func() error {
		return c.interconnect.CrossModulePulse(ctx, a, b, gate)
	}); err != nil {
		c.metrics.recordOp(m1, ActionCrossModuleGate, OutcomeError)
		c.logger.Warn("cross-module gate failed", "gate", gate, "from", a.String(), "to", b.String(), "err", err)
		return first.qubitErr(ActionCrossModuleGate, q1, err)
	}

	c.metrics.recordOp(m1, ActionCrossModuleGate, OutcomeOK)

	rec := newRecord(ActionCrossModuleGate, m1)
	rec.Gate = gate
	rec.Peers = []QubitAddress{a, b}
	if err := c.audit.Append(ctx, rec); err != nil {
		c.logger.Error("audit append failed", "action", rec.Action, "err", err)
	}

	return nil
}

func (c *Cluster) MeasurePhysical(ctx context.Context, moduleID int, qubits []int, shots int) (map[int]Tally, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return nil, err
	}
	return m.MeasurePhysical(ctx, qubits, shots)
}

func (c *Cluster) MeasureLogical(ctx context.Context, moduleID int, qubits []int, shots int) (Tally, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return nil, err
	}
	return m.MeasureLogical(ctx, qubits, shots)
}

// On returns a Dispatcher that routes every call to module moduleID.
func (c *Cluster) On(moduleID int) Dispatcher {
	return &clusterDispatcher{cluster: c, moduleID: moduleID}
}

// Close stops the shared pool and the modules the cluster created itself.
// Modules registered through AddModule stay with their owner.
func (c *Cluster) Close() {
	c.mu.RLock()
	owned := make([]*Module, 0, len(c.owned))
	for _, m := range c.modules {
		if c.owned[m.ID()] {
			owned = append(owned, m)
		}
	}
	c.mu.RUnlock()

	for _, m := range owned {
		m.Close()
	}
	c.pool.Close()
}

type clusterDispatcher struct {
	cluster  *Cluster
	moduleID int
}

func (d *clusterDispatcher) ApplyGate(ctx context.Context, gate string, q int) error {
	return d.cluster.ApplyGate(ctx, d.moduleID, gate, q)
}

func (d *clusterDispatcher) ApplyTwoQubitGate(ctx context.Context, gate string, q1, q2 int) error {
	return d.cluster.ApplyTwoQubitGate(ctx, d.moduleID, gate, q1, q2)
}

func (d *clusterDispatcher) ApplyGateParallel(ctx context.Context, gate string, qubits []int) error {
	return d.cluster.ApplyGateParallel(ctx, d.moduleID, gate, qubits)
}
