package resilience

import (
	"sort"
	"sync"
	"time"
)

// DegradationLevel represents the level of service degradation
type DegradationLevel int

const (
	// LevelNormal - all services are operational
	LevelNormal DegradationLevel = iota
	// LevelPartial - some services are degraded but core functionality works
	LevelPartial
	// LevelSevere - significant degradation, only essential services work
	LevelSevere
	// LevelCritical - system is barely functional
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DegradationReport is a point-in-time assessment of pipeline degradation
// derived from circuit breaker states.
type DegradationReport struct {
	Level           DegradationLevel
	OpenServices    []string
	ProbingServices []string
	TotalServices   int
	AssessedAt      time.Time
}

// AllowIntake reports whether new batch work of the given data sensitivity
// should be accepted at the current degradation level.
func (r DegradationReport) AllowIntake(sensitivity string) (bool, string) {
	switch r.Level {
	case LevelNormal:
		return true, ""
	case LevelPartial:
		if sensitivity == "RESTRICTED" {
			return false, "restricted data intake is paused during partial degradation"
		}
		return true, "operating with reduced capacity"
	case LevelSevere:
		if sensitivity == "RESTRICTED" || sensitivity == "CONFIDENTIAL" {
			return false, "only standard data intake is available during severe degradation"
		}
		return true, "operating with minimal capacity"
	case LevelCritical:
		return false, "data intake is paused during critical degradation"
	default:
		return false, "unknown degradation level"
	}
}

// Status renders the report for dashboards and the ops endpoint
func (r DegradationReport) Status() map[string]interface{} {
	return map[string]interface{}{
		"degradation_level": r.Level.String(),
		"open_services":     r.OpenServices,
		"probing_services":  r.ProbingServices,
		"total_services":    r.TotalServices,
		"can_intake":        r.Level < LevelCritical,
		"assessed_at":       r.AssessedAt,
	}
}

// DegradationPolicy maps per-service breaker outages onto a system-wide
// degradation level. Services may be registered with the level their outage
// alone implies; unregistered services only contribute to the open fraction.
type DegradationPolicy struct {
	mutex   sync.RWMutex
	impacts map[string]DegradationLevel
}

// NewDegradationPolicy creates an empty degradation policy
func NewDegradationPolicy() *DegradationPolicy {
	return &DegradationPolicy{
		impacts: make(map[string]DegradationLevel),
	}
}

// RegisterService records the degradation level implied by an outage of the
// named service.
func (dp *DegradationPolicy) RegisterService(name string, impact DegradationLevel) {
	dp.mutex.Lock()
	defer dp.mutex.Unlock()
	dp.impacts[name] = impact
}

// Assess derives the current degradation level from a set of breaker state
// snapshots, typically the output of Registry.States.
func (dp *DegradationPolicy) Assess(states map[string]StateSnapshot) DegradationReport {
	dp.mutex.RLock()
	defer dp.mutex.RUnlock()

	maxLevel := LevelNormal
	var open, probing []string

	for name, snapshot := range states {
		// Unknown state strings parse as CLOSED and contribute nothing.
		state, _ := ParseState(snapshot.State)
		switch state {
		case StateOpen:
			open = append(open, name)
			if impact, exists := dp.impacts[name]; exists && impact > maxLevel {
				maxLevel = impact
			}
		case StateHalfOpen:
			probing = append(probing, name)
		}
	}

	// Escalate on the fraction of services with an open breaker
	if total := len(states); total > 0 {
		openFraction := float64(len(open)) / float64(total)
		switch {
		case openFraction >= 0.75:
			if maxLevel < LevelCritical {
				maxLevel = LevelCritical
			}
		case openFraction >= 0.5:
			if maxLevel < LevelSevere {
				maxLevel = LevelSevere
			}
		case openFraction >= 0.25:
			if maxLevel < LevelPartial {
				maxLevel = LevelPartial
			}
		}
	}

	sort.Strings(open)
	sort.Strings(probing)

	return DegradationReport{
		Level:           maxLevel,
		OpenServices:    open,
		ProbingServices: probing,
		TotalServices:   len(states),
		AssessedAt:      time.Now(),
	}
}
