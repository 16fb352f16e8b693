package model

import (
	"fmt"
	"sync"
)

// Team describes one routing destination and its capacity envelope.
type Team struct {
	Name           string     `json:"name"`
	CaseTypes      []CaseType `json:"case_types"`
	MaxRiskLevel   RiskLevel  `json:"max_risk_level"`
	Capacity       int        `json:"capacity"`
	CurrentLoad    int        `json:"current_load"`
	SLATargetHours float64    `json:"sla_target_hours"`
}

// Accepts reports whether the team handles the given case type.
func (t Team) Accepts(ct CaseType) bool {
	for _, k := range t.CaseTypes {
		if k == ct {
			return true
		}
	}
	return false
}

// TeamRegistry is the process-wide team capacity table. CurrentLoad is the
// only field the core mutates, and only through Acquire/Release.
type TeamRegistry struct {
	mu    sync.Mutex
	teams map[string]*Team
	order []string
}

// DefaultTeams returns the built-in team catalogue.
func DefaultTeams() []Team {
	return []Team{
		{
			Name:           "Tier-1",
			CaseTypes:      []CaseType{CaseInsuranceClaim, CaseHealthcarePriorAuth, CaseBankDispute},
			MaxRiskLevel:   RiskHigh,
			Capacity:       100,
			SLATargetHours: 2,
		},
		{
			Name:           "Tier-2",
			CaseTypes:      []CaseType{CaseInsuranceClaim, CaseHealthcarePriorAuth},
			MaxRiskLevel:   RiskMedium,
			Capacity:       200,
			SLATargetHours: 72,
		},
		{
			Name:           "Specialist",
			CaseTypes:      []CaseType{CaseLegalIntake, CaseFraudReview, CaseHealthcarePriorAuth},
			MaxRiskLevel:   RiskExtreme,
			Capacity:       50,
			SLATargetHours: 48,
		},
		{
			Name:           "Fraud-Review",
			CaseTypes:      []CaseType{CaseFraudReview, CaseBankDispute},
			MaxRiskLevel:   RiskExtreme,
			Capacity:       30,
			SLATargetHours: 24,
		},
		{
			Name:           "Escalation",
			CaseTypes:      []CaseType{CaseInsuranceClaim, CaseHealthcarePriorAuth, CaseBankDispute, CaseLegalIntake},
			MaxRiskLevel:   RiskExtreme,
			Capacity:       20,
			SLATargetHours: 4,
		},
	}
}

// TeamAlternatives is the ordered fallback list consulted when a team is at
// capacity.
var TeamAlternatives = map[string][]string{
	"Tier-1":       {"Tier-2", "Specialist"},
	"Tier-2":       {"Tier-1", "Specialist"},
	"Specialist":   {"Tier-1", "Tier-2"},
	"Fraud-Review": {"Specialist", "Escalation"},
	"Escalation":   {"Specialist", "Tier-1"},
}

// NewTeamRegistry builds a registry from the given catalogue. Passing nil
// uses DefaultTeams.
func NewTeamRegistry(teams []Team) *TeamRegistry {
	if teams == nil {
		teams = DefaultTeams()
	}
	r := &TeamRegistry{teams: make(map[string]*Team, len(teams))}
	for i := range teams {
		t := teams[i]
		r.teams[t.Name] = &t
		r.order = append(r.order, t.Name)
	}
	return r
}

// Get returns a snapshot of the named team.
func (r *TeamRegistry) Get(name string) (Team, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[name]
	if !ok {
		return Team{}, false
	}
	return *t, true
}

// List returns snapshots of all teams in catalogue order.
func (r *TeamRegistry) List() []Team {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Team, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.teams[name])
	}
	return out
}

// Acquire increments the team's load. Refuses when the team is already at
// capacity.
func (r *TeamRegistry) Acquire(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[name]
	if !ok {
		return fmt.Errorf("model: unknown team %q", name)
	}
	if t.CurrentLoad >= t.Capacity {
		return fmt.Errorf("model: team %q at capacity (%d/%d)", name, t.CurrentLoad, t.Capacity)
	}
	t.CurrentLoad++
	return nil
}

// Release decrements the team's load. Releasing below zero is a programming
// error and is clamped.
func (r *TeamRegistry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.teams[name]; ok && t.CurrentLoad > 0 {
		t.CurrentLoad--
	}
}

// SetLoad overwrites a team's current load. Intended for tests and for
// syncing from an external workload source.
func (r *TeamRegistry) SetLoad(name string, load int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[name]
	if !ok {
		return fmt.Errorf("model: unknown team %q", name)
	}
	if load < 0 || load > t.Capacity {
		return fmt.Errorf("model: load %d out of range for team %q", load, name)
	}
	t.CurrentLoad = load
	return nil
}

// Eligible returns the names of all teams that accept the case type and
// whose max risk level is at or above the given level, in catalogue order.
func (r *TeamRegistry) Eligible(ct CaseType, level RiskLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, name := range r.order {
		t := r.teams[name]
		if t.Accepts(ct) && RiskAtLeast(t.MaxRiskLevel, level) {
			out = append(out, name)
		}
	}
	return out
}
