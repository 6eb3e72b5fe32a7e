package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// PlanError marks queries whose intent needs entities the extractor did
// not produce. The coordinator surfaces a clarifying prompt, not an
// error, when it sees one.
type PlanError struct {
	Intent models.IntentType
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("cannot plan %s query: %s", e.Intent, e.Reason)
}

// IsPlanError reports whether err is a PlanError.
func IsPlanError(err error) bool {
	var pe *PlanError
	return errors.As(err, &pe)
}

// Planner chains classification, extraction and plan building.
type Planner struct {
	classifier Classifier
	// StepDeadline bounds each plan step's federated fetch.
	stepDeadline time.Duration
}

// New builds a planner over the given classifier backend.
func New(classifier Classifier, stepDeadline time.Duration) *Planner {
	if stepDeadline <= 0 {
		stepDeadline = 10 * time.Second
	}
	return &Planner{classifier: classifier, stepDeadline: stepDeadline}
}

// Plan produces the execution plan for a query. Deterministic for a
// fixed classifier backend and registry snapshot.
func (p *Planner) Plan(ctx context.Context, query models.Query) (*models.ExecutionPlan, error) {
	classifyCtx, cancel := context.WithTimeout(ctx, ClassifyTimeout)
	intent, err := p.classifier.Classify(classifyCtx, query.Text)
	cancel()
	if err != nil {
		// Bounded-time contract: classification failure degrades to
		// unknown, never blocks the pipeline.
		slog.Warn("Intent classification failed", "error", err)
		intent = models.Intent{Type: models.IntentUnknown, Confidence: 0}
	}

	intent.Entities = ExtractEntities(query.Text)
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	plan := &models.ExecutionPlan{Intent: intent}

	switch intent.Type {
	case models.IntentGreeting, models.IntentHelpRequest, models.IntentUnknown:
		// Conversational intents carry no fetch steps.
		return plan, nil

	case models.IntentInvestigate, models.IntentAnalyze, models.IntentReportRequest:
		caps := capabilitiesFor(query.Text, intent)
		if len(caps) == 0 {
			return nil, &PlanError{
				Intent: intent.Type,
				Reason: "no capability mapping derived from query entities",
			}
		}
		filters := FiltersFromEntities(intent.Entities)
		strategy := models.StrategyAggregate
		if timeCritical(query) {
			strategy = models.StrategyFastest
		}
		for _, cap := range caps {
			plan.Steps = append(plan.Steps, models.PlanStep{
				Capability: cap,
				Strategy:   strategy,
				Filters:    filters,
				Deadline:   p.stepDeadline,
			})
		}
		return plan, nil

	default:
		return nil, &PlanError{Intent: intent.Type, Reason: "unhandled intent type"}
	}
}

// capabilityLexicon maps query vocabulary to source capabilities.
var capabilityLexicon = []struct {
	cap      models.Capability
	triggers []string
}{
	{models.CapabilityContracts, []string{"contrato", "contratos", "contratação", "contratacao", "superfaturamento"}},
	{models.CapabilityBiddings, []string{"licitação", "licitacao", "licitações", "licitacoes", "pregão", "pregao", "edital"}},
	{models.CapabilityServants, []string{"servidor", "servidores", "salário", "salario", "remuneração", "remuneracao"}},
	{models.CapabilityExpenses, []string{"despesa", "despesas", "gasto", "gastos", "pagamento", "pagamentos", "orçamento", "orcamento"}},
	{models.CapabilitySanctions, []string{"sanção", "sancao", "sanções", "sancoes", "inidônea", "inidonea", "punição", "punicao"}},
	{models.CapabilityTransfers, []string{"convênio", "convenio", "convênios", "convenios", "repasse", "repasses", "transferência", "transferencia"}},
	{models.CapabilityHealthData, []string{"saúde", "saude", "hospital", "medicamento", "medicamentos"}},
	{models.CapabilityEducationData, []string{"educação", "educacao", "escola", "escolas", "merenda", "universidade"}},
}

// capabilitiesFor derives the capabilities a query needs. Health and
// education mentions add their domain capability on top of the primary
// one instead of replacing it.
func capabilitiesFor(text string, intent models.Intent) []models.Capability {
	normalized := strings.ToLower(text)
	seen := make(map[models.Capability]bool)
	var caps []models.Capability

	for _, group := range capabilityLexicon {
		for _, trigger := range group.triggers {
			if strings.Contains(normalized, trigger) {
				if !seen[group.cap] {
					seen[group.cap] = true
					caps = append(caps, group.cap)
				}
				break
			}
		}
	}

	// An investigate intent with an organization but no explicit domain
	// vocabulary defaults to contracts, the most common target.
	if len(caps) == 0 && intent.Type == models.IntentInvestigate &&
		len(intent.Entities[models.EntityOrganization]) > 0 {
		caps = append(caps, models.CapabilityContracts)
	}
	return caps
}

// timeCritical marks queries that asked for immediate answers.
func timeCritical(q models.Query) bool {
	if q.Options["priority"] == "realtime" {
		return true
	}
	normalized := strings.ToLower(q.Text)
	for _, marker := range []string{"urgente", "agora", "rápido", "rapido", "imediato"} {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
