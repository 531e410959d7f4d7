package evaluation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects harness telemetry on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	PatientsEvaluated prometheus.Counter
	PatientsFailed    prometheus.Counter
	PatientsExcluded  prometheus.Counter
	Dice              *prometheus.HistogramVec
	PatientDuration   prometheus.Histogram
}

// NewMetrics registers the harness metrics on a new registry
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PatientsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slicecorrect",
			Name:      "patients_evaluated_total",
			Help:      "Patients whose evaluation completed.",
		}),
		PatientsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slicecorrect",
			Name:      "patients_failed_total",
			Help:      "Patients skipped because their evaluation failed.",
		}),
		PatientsExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slicecorrect",
			Name:      "patients_excluded_total",
			Help:      "Patients excluded from the cohort for missing artifacts.",
		}),
		Dice: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slicecorrect",
			Name:      "volume_dice",
			Help:      "Volume Dice per patient after correction.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"strategy", "budget"}),
		PatientDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slicecorrect",
			Name:      "patient_duration_seconds",
			Help:      "Wall time spent evaluating one patient.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.Registry.MustRegister(m.PatientsEvaluated, m.PatientsFailed, m.PatientsExcluded, m.Dice, m.PatientDuration)
	return m
}

// WriteTextfile writes the current metrics in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

func (m *Metrics) observeDice(strategy string, budget Fraction, score float64) {
	if m == nil {
		return
	}
	m.Dice.WithLabelValues(strategy, budget.String()).Observe(score)
}

func (m *Metrics) patientDone(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.PatientDuration.Observe(seconds)
	if failed {
		m.PatientsFailed.Inc()
	} else {
		m.PatientsEvaluated.Inc()
	}
}

func (m *Metrics) excluded(n int) {
	if m == nil {
		return
	}
	m.PatientsExcluded.Add(float64(n))
}
