package models

import (
	"fmt"
	"time"
)

// IntentType classifies a user query.
type IntentType string

const (
	IntentGreeting      IntentType = "greeting"
	IntentHelpRequest   IntentType = "help_request"
	IntentInvestigate   IntentType = "investigate"
	IntentAnalyze       IntentType = "analyze"
	IntentReportRequest IntentType = "report_request"
	IntentUnknown       IntentType = "unknown"
)

// EntityKind groups extracted entities.
type EntityKind string

const (
	EntityOrganization     EntityKind = "organization"
	EntityDateRange        EntityKind = "date_range"
	EntityValueRange       EntityKind = "value_range"
	EntityPerson           EntityKind = "person"
	EntityGeographicRegion EntityKind = "geographic_region"
)

// Intent is the planner's classification of a query. Immutable.
type Intent struct {
	Type             IntentType              `json:"type"`
	Entities         map[EntityKind][]string `json:"entities,omitempty"`
	Confidence       float64                 `json:"confidence"`
	SuggestedAgentID string                  `json:"suggested_agent_id,omitempty"`
}

// Validate enforces the intent invariants (confidence bounds).
// Resolution of SuggestedAgentID against the agent registry is the
// router's responsibility.
func (i *Intent) Validate() error {
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("intent confidence %f outside [0,1]", i.Confidence)
	}
	return nil
}

// Capability is a class of data a source can serve.
type Capability string

const (
	CapabilityContracts     Capability = "contracts"
	CapabilityServants      Capability = "servants"
	CapabilityExpenses      Capability = "expenses"
	CapabilityBiddings      Capability = "biddings"
	CapabilityGeographic    Capability = "geographic"
	CapabilityHealthData    Capability = "health-data"
	CapabilityEducationData Capability = "education-data"
	CapabilitySanctions     Capability = "sanctions"
	CapabilityTransfers     Capability = "transfers"
)

// FetchStrategy selects the scheduling shape of a federated fetch.
type FetchStrategy string

const (
	StrategyFallback  FetchStrategy = "fallback"
	StrategyFastest   FetchStrategy = "fastest"
	StrategyAggregate FetchStrategy = "aggregate"
	StrategyParallel  FetchStrategy = "parallel"
)

// Filters constrain a federated fetch, derived from extracted entities.
type Filters struct {
	Organization string     `json:"organization,omitempty"`
	Region       string     `json:"region,omitempty"`
	Family       string     `json:"family,omitempty"`
	DateFrom     *time.Time `json:"date_from,omitempty"`
	DateTo       *time.Time `json:"date_to,omitempty"`
	MinValue     float64    `json:"min_value,omitempty"`
	MaxValue     float64    `json:"max_value,omitempty"`
	Person       string     `json:"person,omitempty"`
}

// PlanStep is one federated fetch within an execution plan.
type PlanStep struct {
	Capability Capability    `json:"capability"`
	Sources    []string      `json:"sources,omitempty"`
	Strategy   FetchStrategy `json:"strategy"`
	Filters    Filters       `json:"filters"`
	Deadline   time.Duration `json:"deadline"`
}

// ExecutionPlan is the ordered list of steps derived from one query.
type ExecutionPlan struct {
	Intent Intent     `json:"intent"`
	Steps  []PlanStep `json:"steps"`
}
