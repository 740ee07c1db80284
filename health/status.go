package health

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/engine"
)

// Level is the coarse health of a component
type Level string

// Health levels, from best to worst
const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

func (l Level) rank() int {
	switch l {
	case LevelHealthy:
		return 0
	case LevelDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of one component, or of a system when it carries
// sub-statuses.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      Level     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics counts failures reported for a component
type Metrics struct {
	ErrorCount  int       `json:"error_count"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

func newStatus(component string, level Level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, LevelHealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, LevelDegraded, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, LevelUnhealthy, message)
}

// IsHealthy reports whether the level is healthy
func (s Status) IsHealthy() bool { return s.Status == LevelHealthy }

// IsDegraded reports whether the level is degraded
func (s Status) IsDegraded() bool { return s.Status == LevelDegraded }

// IsUnhealthy reports whether the level is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == LevelUnhealthy }

// FromPipelineState maps a pipeline run-state to the entity's health.
// Running is healthy, starting or shutting down is degraded, anything else
// is unhealthy.
func FromPipelineState(entity string, state engine.State) Status {
	message := "pipeline " + state.String()
	switch state {
	case engine.Running:
		return NewHealthy(entity, message)
	case engine.Created, engine.PendingShutdown:
		return NewDegraded(entity, message)
	default:
		return NewUnhealthy(entity, message)
	}
}

// Aggregate rolls sub-statuses up into one status at the worst level found.
// Unknown levels count as unhealthy. Sub-statuses are copied and ordered by
// component name. An empty input is healthy.
func Aggregate(component string, subs []Status) Status {
	worst := LevelHealthy
	counts := map[Level]int{}
	for _, sub := range subs {
		counts[sub.Status]++
		if sub.Status.rank() > worst.rank() {
			worst = sub.Status
		}
	}
	if worst.rank() == LevelUnhealthy.rank() {
		worst = LevelUnhealthy
	}

	status := newStatus(component, worst, summarize(len(subs), counts))
	if len(subs) == 0 {
		return status
	}
	status.SubStatuses = slices.Clone(subs)
	slices.SortStableFunc(status.SubStatuses, func(a, b Status) int {
		return strings.Compare(a.Component, b.Component)
	})
	return status
}

func summarize(total int, counts map[Level]int) string {
	if total == 0 {
		return "no components"
	}
	msg := fmt.Sprintf("%d/%d healthy", counts[LevelHealthy], total)
	if n := counts[LevelDegraded]; n > 0 {
		msg += fmt.Sprintf(", %d degraded", n)
	}
	if n := total - counts[LevelHealthy] - counts[LevelDegraded]; n > 0 {
		msg += fmt.Sprintf(", %d unhealthy", n)
	}
	return msg
}
