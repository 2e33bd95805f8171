package qcontrol

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// counterValue sums every sample of the named family whose labels include want.
func counterValue(reg *prometheus.Registry, name string, want map[string]string) float64 {
	families, err := reg.Gather()
	if err != nil {
		panic(err)
	}

	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetrics(t *testing.T) {
	Convey("Given metrics published to a Prometheus registry", t, func() {
		ctx := context.Background()
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)

		driver := newTestDriver().script(0, 1).script(1, 1).script(2, 0)
		m := NewModule(4, driver, testConfig(4), WithMetrics(metrics))

		Reset(func() {
			m.Close()
		})

		Convey("When a module calibrates, pulses and measures", func() {
			calibrate(ctx, m, 0, 1, 2)
			So(m.ApplyGate(ctx, GateH, 0), ShouldBeNil)
			So(m.ApplyGate(ctx, GateH, 3), ShouldNotBeNil)
			_, err := m.MeasureLogical(ctx, []int{0, 1, 2}, 5)
			So(err, ShouldBeNil)

			Convey("Then the in-process counters follow", func() {
				So(metrics.OpCount(ActionCalibrate, OutcomeOK), ShouldEqual, int64(3))
				So(metrics.OpCount(ActionGate, OutcomeOK), ShouldEqual, int64(1))
				So(metrics.OpCount(ActionGate, OutcomeRejected), ShouldEqual, int64(1))
				So(metrics.ShotsMeasured, ShouldEqual, int64(5))

				exported := metrics.ExportMetrics()
				So(exported["shots_measured"], ShouldEqual, int64(5))
			})

			Convey("Then the same events reach Prometheus with module labels", func() {
				So(counterValue(reg, "qcontrol_operations_total", map[string]string{
					"module": "4", "action": ActionCalibrate, "outcome": OutcomeOK,
				}), ShouldEqual, 3.0)
				So(counterValue(reg, "qcontrol_operations_total", map[string]string{
					"action": ActionGate, "outcome": OutcomeRejected,
				}), ShouldEqual, 1.0)
				So(counterValue(reg, "qcontrol_shots_total", map[string]string{
					"module": "4", "action": ActionMeasureLogical,
				}), ShouldEqual, 5.0)
			})
		})

		Convey("When a second metrics set registers on the same registry", func() {
			again := NewMetrics(reg)
			again.recordOp(9, ActionGate, OutcomeOK)
			metrics.recordOp(9, ActionGate, OutcomeOK)

			Convey("Then both share the already registered collectors", func() {
				So(counterValue(reg, "qcontrol_operations_total", map[string]string{
					"module": "9",
				}), ShouldEqual, 2.0)
			})
		})
	})

	Convey("Given nil metrics", t, func() {
		var metrics *Metrics

		Convey("Recording should be a no-op", func() {
			So(func() {
				metrics.recordOp(0, ActionGate, OutcomeOK)
				metrics.recordShots(0, ActionMeasurePhysical, 10)
			}, ShouldNotPanic)
		})
	})
}
