package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cidadao-ai/vigia/pkg/llm"
	"github.com/cidadao-ai/vigia/pkg/models"
)

// Reporter synthesizes the findings of earlier agents into a user-facing
// summary. With an LLM client configured it asks the model; otherwise it
// renders a deterministic template. Either way the reply is non-empty.
type Reporter struct {
	llm llm.Client
}

// NewReporter returns the reporter agent. client may be nil (template
// mode).
func NewReporter(client llm.Client) *Reporter {
	return &Reporter{llm: client}
}

func (r *Reporter) ID() string { return "reporter" }

func (r *Reporter) Capabilities() []string {
	return []string{"synthesis", "report-generation"}
}

func (r *Reporter) Initialize(ctx context.Context) error { return nil }
func (r *Reporter) Shutdown(ctx context.Context) error   { return nil }

func (r *Reporter) Reflect(ctx context.Context, resp *models.AgentResponse) QualityScore {
	return QualityScore{Score: resp.Confidence()}
}

func (r *Reporter) Process(ctx context.Context, msg models.AgentMessage, actx *models.AgentContext) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, _ := msg.Payload["query"].(string)
	recordCount, _ := msg.Payload["records_analyzed"].(int)
	anomalyCount, _ := msg.Payload["anomalies_found"].(int)
	findings, _ := msg.Payload["findings"].(map[string]any)

	summary := r.templateSummary(query, recordCount, anomalyCount, findings)
	usedLLM := false

	if r.llm != nil {
		if text, err := r.llm.Complete(ctx, r.synthesisPrompt(query, recordCount, anomalyCount, findings)); err == nil && strings.TrimSpace(text) != "" {
			summary = strings.TrimSpace(text)
			usedLLM = true
		}
		// LLM failure falls through to the template; the reply must
		// never be empty.
	}

	return &models.AgentResponse{
		AgentName: r.ID(),
		Status:    models.AgentStatusCompleted,
		Result: map[string]any{
			"summary": summary,
		},
		Metadata: map[string]any{
			"confidence": 0.85,
			"llm_backed": usedLLM,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (r *Reporter) templateSummary(query string, records, anomalies int, findings map[string]any) string {
	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "Investigação concluída para: %s. ", query)
	} else {
		b.WriteString("Investigação concluída. ")
	}
	fmt.Fprintf(&b, "Foram analisados %d registros de fontes públicas", records)
	if anomalies > 0 {
		fmt.Fprintf(&b, " e identificadas %d possíveis irregularidades que merecem atenção", anomalies)
	} else {
		b.WriteString(", sem irregularidades evidentes no conjunto avaliado")
	}
	b.WriteString(".")
	if direction, ok := findings["trend_direction"].(string); ok && direction != "" && direction != "insufficient_data" {
		label := map[string]string{
			"increasing": "crescimento", "decreasing": "queda", "flat": "estabilidade",
		}[direction]
		if label != "" {
			fmt.Fprintf(&b, " A série temporal indica %s nos gastos do período.", label)
		}
	}
	return b.String()
}

func (r *Reporter) synthesisPrompt(query string, records, anomalies int, findings map[string]any) string {
	return fmt.Sprintf(
		"Escreva um resumo executivo em português (3-4 frases) de uma investigação de "+
			"transparência pública.\nConsulta: %s\nRegistros analisados: %d\nAnomalias: %d\nAchados: %v\n",
		query, records, anomalies, findings)
}
