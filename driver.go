package qcontrol

import (
	"context"
	"fmt"
)

/*
Driver is the pulse-generation backend of one qubit bank. Qubit indices are
local to the bank. Implementations may be simulators or hardware bindings;
any failure must be returned, never panicked.
*/
type Driver interface {
	Calibrate(ctx context.Context, qubit int) error
	Pulse(ctx context.Context, qubit int, gate string) error
	TwoQubitPulse(ctx context.Context, a, b int, gate string) error
	// Readout returns exactly 0 or 1.
	Readout(ctx context.Context, qubit int) (int, error)
}

// QubitAddress is the cluster-wide identity of a qubit.
type QubitAddress struct {
	ModuleID int `json:"module"`
	Qubit    int `json:"qubit"`
}

func (a QubitAddress) String() string {
	return fmt.Sprintf("%d:%d", a.ModuleID, a.Qubit)
}

/*
Interconnect drives a single two-qubit pulse whose qubits live in different
modules. It belongs to the cluster, not to either module's driver.
*/
type Interconnect interface {
	CrossModulePulse(ctx context.Context, a, b QubitAddress, gate string) error
}
