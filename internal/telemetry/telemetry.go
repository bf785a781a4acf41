// Package telemetry wires the scheduler's ambient logging and metrics
// concerns to concrete third-party libraries, behind a small interface
// so the root package never has to import logiface/stumpy/prometheus
// types into its exported API.
package telemetry

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger is the subset of structured-logging operations the scheduler
// needs: task transitions and deadlock detection.
// A nil Logger is never passed around; Disabled() returns a safe no-op.
type Logger interface {
	Debug(msg string, fields map[string]string)
	Info(msg string, fields map[string]string)
	Error(msg string, fields map[string]string)
}

type logifaceLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewDefault builds a Logger backed by logiface, using stumpy as the
// JSON event backend (the "model" logger for logiface, per its own
// doc.go), writing to the stumpy default writer (stdout).
func NewDefault() Logger {
	return &logifaceLogger{l: stumpy.L.New(
		stumpy.L.WithStumpy(),
		logiface.WithLevel[*stumpy.Event](logiface.LevelInformational),
	)}
}

// NewLogifaceLogger wraps an already-configured logiface logger, for
// callers that want full control over stumpy options (time field,
// writer, level field names, etc).
func NewLogifaceLogger(l *logiface.Logger[*stumpy.Event]) Logger {
	return &logifaceLogger{l: l}
}

// Disabled returns a Logger that discards everything, built the same
// way the teacher resolves an absent logger: a real logiface.Logger
// configured with LevelDisabled, not a hand-rolled no-op type.
func Disabled() Logger {
	return &logifaceLogger{l: stumpy.L.New(logiface.WithLevel[*stumpy.Event](logiface.LevelDisabled))}
}

func (g *logifaceLogger) emit(b *logiface.Builder[*stumpy.Event], msg string, fields map[string]string) {
	for k, v := range fields {
		b = b.Str(k, v)
	}
	b.Log(msg)
}

func (g *logifaceLogger) Debug(msg string, fields map[string]string) { g.emit(g.l.Debug(), msg, fields) }
func (g *logifaceLogger) Info(msg string, fields map[string]string)  { g.emit(g.l.Info(), msg, fields) }
func (g *logifaceLogger) Error(msg string, fields map[string]string) { g.emit(g.l.Err(), msg, fields) }

// Metrics is the set of Prometheus collectors the scheduler records
// against. It mirrors the teacher's opt-in Loop.Metrics() surface, but
// is backed by a real third-party metrics library rather than a
// hand-rolled histogram, since the example pack's aistore sibling
// repo leans on client_golang throughout for exactly this concern.
type Metrics struct {
	TasksCreated      prometheus.Counter
	TasksCancelled    prometheus.Counter
	TasksReturned     prometheus.Counter
	DeadlocksDetected prometheus.Counter
	StreamTransfers   prometheus.Counter
	ReadyQueueDepth   prometheus.Gauge
}

// NewMetrics constructs a Metrics instance registered against reg. If
// reg is nil, a private registry is used (safe to construct many
// Metrics instances, e.g. one per Store, without collector name
// collisions at the default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		TasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asyncsched_tasks_created_total",
			Help: "Total number of tasks created across all kinds.",
		}),
		TasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asyncsched_tasks_cancelled_total",
			Help: "Total number of tasks that reached the CANCELLED state.",
		}),
		TasksReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asyncsched_tasks_returned_total",
			Help: "Total number of tasks that reached the RETURNED state.",
		}),
		DeadlocksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asyncsched_deadlocks_total",
			Help: "Total number of deadlock traps raised by the event loop.",
		}),
		StreamTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asyncsched_stream_transfers_total",
			Help: "Total number of completed stream/future element transfers.",
		}),
		ReadyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asyncsched_ready_queue_depth",
			Help: "Current number of tasks in the event loop's ready queue.",
		}),
	}
	reg.MustRegister(
		m.TasksCreated,
		m.TasksCancelled,
		m.TasksReturned,
		m.DeadlocksDetected,
		m.StreamTransfers,
		m.ReadyQueueDepth,
	)
	return m
}
