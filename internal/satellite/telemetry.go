package satellite

import (
	"time"

	"github.com/beeper/groundstation-gateway/internal/protocol"
	"github.com/beeper/groundstation-gateway/internal/util"
)

// Metric is one simulated sensor that random-walks between Min and Max.
type Metric struct {
	Subsystem string
	Name      string
	Value     float64
	Step      float64
	Min       float64
	Max       float64
}

func defaultMetrics() []*Metric {
	return []*Metric{
		{Subsystem: "battery", Name: "voltage", Value: 3.9, Step: 0.01, Min: 3, Max: 4.2},
		{Subsystem: "battery", Name: "temperature", Value: 20, Step: 0.1, Min: 5, Max: 35},
		{Subsystem: "panels", Name: "temperature_x", Value: 25, Step: 0.1, Min: 20, Max: 35},
		{Subsystem: "panels", Name: "temperature_y", Value: 25.5, Step: 0.1, Min: 20, Max: 35},
		{Subsystem: "panels", Name: "temperature_z", Value: 24.5, Step: 0.1, Min: 20, Max: 35},
	}
}

type Telemetry struct {
	system  string
	metrics []*Metric
	// Up decides the direction of a step inside the bounds.
	Up func() bool
}

func NewTelemetry(system string) *Telemetry {
	return &Telemetry{system: system, metrics: defaultMetrics(), Up: coinFlip}
}

func coinFlip() bool {
	f, err := util.RandomFraction()
	return err == nil && f > 0.5
}

// Next reports the current reading of every metric and advances each one by a
// step, turning back at the bounds.
func (t *Telemetry) Next(now time.Time) []protocol.Measurement {
	out := make([]protocol.Measurement, 0, len(t.metrics))
	for _, m := range t.metrics {
		out = append(out, protocol.Measurement{
			System:    t.system,
			Subsystem: m.Subsystem,
			Metric:    m.Name,
			Value:     m.Value,
			Timestamp: now.UnixMilli(),
		})
		switch {
		case m.Value >= m.Max:
			m.Value -= m.Step
		case m.Value <= m.Min:
			m.Value += m.Step
		case t.Up():
			m.Value += m.Step
		default:
			m.Value -= m.Step
		}
	}
	return out
}
