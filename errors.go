package qcontrol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOutOfRange        = errors.New("out of range")
	ErrNotCalibrated     = errors.New("qubit not calibrated")
	ErrUnknownModule     = errors.New("unknown module")
	ErrDuplicateModuleID = errors.New("duplicate module id")
	ErrDriverFailure     = errors.New("driver failure")
	ErrInvalidShots      = errors.New("shots must be at least 1")
	ErrEmptyGroup        = errors.New("empty qubit group")
	ErrCircuitOpen       = errors.New("driver circuit breaker open")
	ErrSameQubit         = errors.New("two-qubit gate needs distinct qubits")
)

/*
QubitError ties a failure to the qubit and operation that produced it.
The wrapped error is always one of the package sentinels (possibly with
further driver context below it), so callers can branch on errors.Is.
*/
type QubitError struct {
	ModuleID int
	Qubit    int
	Op       string
	Err      error
}

func (e *QubitError) Error() string {
	return fmt.Sprintf("module %d qubit %d: %s: %v", e.ModuleID, e.Qubit, e.Op, e.Err)
}

func (e *QubitError) Unwrap() error {
	return e.Err
}

/*
BatchError reports the qubits of a fan-out batch that failed. Qubits not
listed completed successfully.
*/
type BatchError struct {
	Failed map[int]error
}

func (e *BatchError) Error() string {
	qubits := e.Qubits()
	parts := make([]string, 0, len(qubits))

	for _, q := range qubits {
		parts = append(parts, fmt.Sprintf("%d: %v", q, e.Failed[q]))
	}

	return fmt.Sprintf("%d qubit(s) failed: %s", len(qubits), strings.Join(parts, "; "))
}

// Qubits returns the failed qubit indices in ascending order.
func (e *BatchError) Qubits() []int {
	qubits := make([]int, 0, len(e.Failed))
	for q := range e.Failed {
		qubits = append(qubits, q)
	}
	sort.Ints(qubits)
	return qubits
}

// Unwrap exposes every per-qubit error so errors.Is can match any of them.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, q := range e.Qubits() {
		errs = append(errs, e.Failed[q])
	}
	return errs
}

func driverFailure(err error) error {
	if err == nil || errors.Is(err, ErrDriverFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDriverFailure, err)
}
