package model

import (
	"time"

	"github.com/google/uuid"
)

// LogLine is one line of the combined output of a training process.
type LogLine struct {
	Seq  uint64    `json:"seq"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type ProgressKind string

const (
	ProgressEpoch  ProgressKind = "epoch"
	ProgressMetric ProgressKind = "metric"
)

// ProgressEvent is a fact extracted from a log line: either the epoch
// progress or a named metric.
type ProgressEvent struct {
	Kind    ProgressKind `json:"kind"`
	Current int          `json:"current,omitempty"`
	Total   int          `json:"total,omitempty"`
	Name    string       `json:"name,omitempty"`
	Value   float64      `json:"value,omitempty"`
}

func Epoch(current, total int) ProgressEvent {
	return ProgressEvent{Kind: ProgressEpoch, Current: current, Total: total}
}

func Metric(name string, value float64) ProgressEvent {
	return ProgressEvent{Kind: ProgressMetric, Name: name, Value: value}
}

// ExitStatus describes how a training process ended.
type ExitStatus struct {
	Code    int       `json:"code"`
	Signal  string    `json:"signal,omitempty"`
	Started time.Time `json:"started"`
	Stopped time.Time `json:"stopped"`
	Err     error     `json:"-"`
}

// Success reports an exit with code zero and no wait error.
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.Code == 0
}

// Progress is the latest displayed epoch and metric values of a run.
type Progress struct {
	Epoch   int                `json:"epoch"`
	Total   int                `json:"total"`
	Metrics map[string]float64 `json:"metrics"`
}

// Apply makes a newer event supersede the value of the same key.
func (p *Progress) Apply(e ProgressEvent) {
	switch e.Kind {
	case ProgressEpoch:
		p.Epoch, p.Total = e.Current, e.Total
	case ProgressMetric:
		if p.Metrics == nil {
			p.Metrics = make(map[string]float64)
		}
		p.Metrics[e.Name] = e.Value
	}
}

// Percent returns the epoch progress in percents.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Epoch) / float64(p.Total) * 100
}

func (p Progress) Clone() Progress {
	ret := Progress{Epoch: p.Epoch, Total: p.Total}
	if p.Metrics != nil {
		ret.Metrics = make(map[string]float64, len(p.Metrics))
		for k, v := range p.Metrics {
			ret.Metrics[k] = v
		}
	}
	return ret
}

// Summary is emitted exactly once when a run reaches a terminal state.
type Summary struct {
	RunID      uuid.UUID  `json:"run_id"`
	FinalState RunState   `json:"final_state"`
	Exit       ExitStatus `json:"exit"`
	Error      string     `json:"error,omitempty"`
	Progress   Progress   `json:"progress"`
	Model      string     `json:"model"`
	Dataset    string     `json:"dataset"`
}

type EventKind string

const (
	EventState         EventKind = "state"
	EventLog           EventKind = "log"
	EventProgress      EventKind = "progress"
	EventLaunchFailure EventKind = "launch_failure"
	EventSummary       EventKind = "summary"
)

// Event is published by the orchestrator to its observers. Seq is a total
// order over all events of one orchestrator.
type Event struct {
	Seq      uint64         `json:"seq"`
	RunID    uuid.UUID      `json:"run_id"`
	Kind     EventKind      `json:"kind"`
	Time     time.Time      `json:"time"`
	State    RunState       `json:"state"`
	Line     *LogLine       `json:"line,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Summary  *Summary       `json:"summary,omitempty"`
	Error    string         `json:"error,omitempty"`
}
