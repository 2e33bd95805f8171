package qcontrol

import "context"

// Dispatcher is anything that can execute named gates: a Module, or a
// module-bound view of a Cluster obtained through Cluster.On.
type Dispatcher interface {
	ApplyGate(ctx context.Context, gate string, q int) error
	ApplyTwoQubitGate(ctx context.Context, gate string, q1, q2 int) error
	ApplyGateParallel(ctx context.Context, gate string, qubits []int) error
}

/*
Circuit translates gate names into dispatch calls. It holds nothing but
its target, so one Dispatcher can back any number of circuits.
*/
type Circuit struct {
	target Dispatcher
}

func NewCircuit(target Dispatcher) *Circuit {
	return &Circuit{target: target}
}

func (c *Circuit) H(ctx context.Context, q int) error { return c.target.ApplyGate(ctx, GateH, q) }
func (c *Circuit) X(ctx context.Context, q int) error { return c.target.ApplyGate(ctx, GateX, q) }
func (c *Circuit) Y(ctx context.Context, q int) error { return c.target.ApplyGate(ctx, GateY, q) }
func (c *Circuit) Z(ctx context.Context, q int) error { return c.target.ApplyGate(ctx, GateZ, q) }
func (c *Circuit) S(ctx context.Context, q int) error { return c.target.ApplyGate(ctx, GateS, q) }
func (c *Circuit) T(ctx context.Context, q int) error { return c.target.ApplyGate(ctx, GateT, q) }

func (c *Circuit) SWAP(ctx context.Context, q1, q2 int) error {
	return c.target.ApplyTwoQubitGate(ctx, GateSWAP, q1, q2)
}

func (c *Circuit) CNOT(ctx context.Context, control, target int) error {
	return c.target.ApplyTwoQubitGate(ctx, GateCNOT, control, target)
}

func (c *Circuit) CZ(ctx context.Context, q1, q2 int) error {
	return c.target.ApplyTwoQubitGate(ctx, GateCZ, q1, q2)
}

// Layer applies one single-qubit gate to all qubits at once.
func (c *Circuit) Layer(ctx context.Context, gate string, qubits ...int) error {
	return c.target.ApplyGateParallel(ctx, gate, qubits)
}
