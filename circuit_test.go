package qcontrol

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type recordingDispatcher struct {
	calls []pulseCall
	err   error
}

func (r *recordingDispatcher) ApplyGate(_ context.Context, gate string, q int) error {
	r.calls = append(r.calls, pulseCall{qubits: []int{q}, gate: gate})
	return r.err
}

func (r *recordingDispatcher) ApplyTwoQubitGate(_ context.Context, gate string, q1, q2 int) error {
	r.calls = append(r.calls, pulseCall{qubits: []int{q1, q2}, gate: gate})
	return r.err
}

func (r *recordingDispatcher) ApplyGateParallel(_ context.Context, gate string, qubits []int) error {
	r.calls = append(r.calls, pulseCall{qubits: qubits, gate: gate})
	return r.err
}

func TestCircuit(t *testing.T) {
	Convey("Given a circuit over a recording dispatcher", t, func() {
		ctx := context.Background()
		target := &recordingDispatcher{}
		circuit := NewCircuit(target)

		Convey("When every named gate is applied", func() {
			So(circuit.H(ctx, 0), ShouldBeNil)
			So(circuit.X(ctx, 1), ShouldBeNil)
			So(circuit.Y(ctx, 2), ShouldBeNil)
			So(circuit.Z(ctx, 3), ShouldBeNil)
			So(circuit.S(ctx, 4), ShouldBeNil)
			So(circuit.T(ctx, 5), ShouldBeNil)
			So(circuit.SWAP(ctx, 0, 1), ShouldBeNil)
			So(circuit.CNOT(ctx, 2, 3), ShouldBeNil)
			So(circuit.CZ(ctx, 4, 5), ShouldBeNil)
			So(circuit.Layer(ctx, GateH, 6, 7, 8), ShouldBeNil)

			Convey("Then each forwards its fixed gate name", func() {
				So(target.calls, ShouldResemble, []pulseCall{
					{qubits: []int{0}, gate: "H"},
					{qubits: []int{1}, gate: "X"},
					{qubits: []int{2}, gate: "Y"},
					{qubits: []int{3}, gate: "Z"},
					{qubits: []int{4}, gate: "S"},
					{qubits: []int{5}, gate: "T"},
					{qubits: []int{0, 1}, gate: "SWAP"},
					{qubits: []int{2, 3}, gate: "CNOT"},
					{qubits: []int{4, 5}, gate: "CZ"},
					{qubits: []int{6, 7, 8}, gate: "H"},
				})
			})
		})

		Convey("When the dispatcher fails", func() {
			target.err = ErrNotCalibrated

			Convey("Then the error is passed through unchanged", func() {
				So(circuit.H(ctx, 0), ShouldEqual, ErrNotCalibrated)
				So(circuit.CNOT(ctx, 0, 1), ShouldEqual, ErrNotCalibrated)
			})
		})
	})

	Convey("Given a Bell-pair circuit on a cluster module", t, func() {
		ctx := context.Background()
		driver := newTestDriver()
		cluster := NewCluster(nil, testConfig(9))

		Reset(func() {
			cluster.Close()
		})

		m, err := cluster.NewModule(driver)
		So(err, ShouldBeNil)
		circuit := NewCircuit(cluster.On(m.ID()))

		Convey("When the logical qubits are calibrated", func() {
			for q := 0; q < 6; q++ {
				So(m.Calibrate(ctx, q), ShouldBeNil)
			}

			So(circuit.H(ctx, 0), ShouldBeNil)
			So(circuit.CNOT(ctx, 0, 3), ShouldBeNil)

			Convey("Then the pulses reach the module's driver", func() {
				So(driver.pulses, ShouldResemble, []pulseCall{{qubits: []int{0}, gate: GateH}})
				So(driver.twoQubit, ShouldResemble, []pulseCall{{qubits: []int{0, 3}, gate: GateCNOT}})
			})
		})

		Convey("When the circuit targets a module that does not exist", func() {
			err := NewCircuit(cluster.On(42)).X(ctx, 0)

			Convey("Then the routing error surfaces", func() {
				So(errors.Is(err, ErrUnknownModule), ShouldBeTrue)
			})
		})
	})
}
