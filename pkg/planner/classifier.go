// Package planner turns a natural-language query into an execution
// plan: intent classification, entity extraction and plan building.
package planner

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cidadao-ai/vigia/pkg/llm"
	"github.com/cidadao-ai/vigia/pkg/models"
)

// Classifier maps query text to an intent. Implementations must return
// within ClassifyTimeout; on timeout the planner falls back to unknown
// with confidence 0.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Intent, error)
}

// ClassifyTimeout bounds a single classification call.
const ClassifyTimeout = 5 * time.Second

// intentLexicon maps Portuguese trigger words to intent types. First
// matching group wins; investigation triggers take precedence over
// analysis ones because investigation queries commonly contain both.
var intentLexicon = []struct {
	intent   models.IntentType
	agent    string
	triggers []string
}{
	{models.IntentGreeting, "communicator", []string{
		"olá", "ola", "oi", "bom dia", "boa tarde", "boa noite", "e aí", "opa",
	}},
	{models.IntentHelpRequest, "communicator", []string{
		"ajuda", "help", "como funciona", "o que você faz", "o que voce faz", "como usar",
	}},
	{models.IntentInvestigate, "detective", []string{
		"investigar", "investigue", "investigação", "investigacao", "apurar",
		"fiscalizar", "auditar", "verificar contratos", "superfaturamento",
		"irregularidade", "fraude", "desvio",
	}},
	{models.IntentReportRequest, "reporter", []string{
		"relatório", "relatorio", "resumo", "sumário", "sumario", "gerar relatório",
	}},
	{models.IntentAnalyze, "analyst", []string{
		"analisar", "analise", "análise", "comparar", "tendência", "tendencia",
		"padrão", "padrao", "evolução", "evolucao", "gastos", "despesas",
	}},
}

// RuleClassifier is the default lexicon-based backend: deterministic,
// dependency-free and fast enough for the greeting fast path.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(ctx context.Context, text string) (models.Intent, error) {
	if err := ctx.Err(); err != nil {
		return models.Intent{}, err
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return models.Intent{Type: models.IntentUnknown, Confidence: 0}, nil
	}

	for _, group := range intentLexicon {
		for _, trigger := range group.triggers {
			if strings.Contains(normalized, trigger) {
				confidence := 0.75
				// Leading trigger words classify more confidently than
				// incidental mentions mid-sentence.
				if strings.HasPrefix(normalized, trigger) {
					confidence = 0.9
				}
				return models.Intent{
					Type:             group.intent,
					Confidence:       confidence,
					SuggestedAgentID: group.agent,
				}, nil
			}
		}
	}
	return models.Intent{Type: models.IntentUnknown, Confidence: 0.3}, nil
}

// LLMClassifier asks the configured model to classify, falling back to
// the rule lexicon when the model times out or returns garbage.
type LLMClassifier struct {
	Client   llm.Client
	Fallback Classifier
}

const classifyPrompt = `Classifique a intenção da consulta abaixo sobre dados de transparência pública.
Responda apenas JSON: {"type": "greeting|help_request|investigate|analyze|report_request|unknown", "confidence": 0.0}

Consulta: `

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (models.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, ClassifyTimeout)
	defer cancel()

	raw, err := c.Client.Complete(ctx, classifyPrompt+text)
	if err != nil {
		slog.Warn("LLM classification failed, using rule lexicon", "error", err)
		return c.fallback(ctx, text)
	}

	var parsed struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		slog.Warn("LLM classification undecodable, using rule lexicon", "error", err)
		return c.fallback(ctx, text)
	}

	intent := models.Intent{
		Type:       models.IntentType(parsed.Type),
		Confidence: parsed.Confidence,
	}
	switch intent.Type {
	case models.IntentGreeting, models.IntentHelpRequest:
		intent.SuggestedAgentID = "communicator"
	case models.IntentInvestigate:
		intent.SuggestedAgentID = "detective"
	case models.IntentAnalyze:
		intent.SuggestedAgentID = "analyst"
	case models.IntentReportRequest:
		intent.SuggestedAgentID = "reporter"
	case models.IntentUnknown:
	default:
		return c.fallback(ctx, text)
	}
	if err := intent.Validate(); err != nil {
		return c.fallback(ctx, text)
	}
	return intent, nil
}

func (c *LLMClassifier) fallback(ctx context.Context, text string) (models.Intent, error) {
	if c.Fallback != nil {
		return c.Fallback.Classify(context.WithoutCancel(ctx), text)
	}
	return models.Intent{Type: models.IntentUnknown, Confidence: 0}, nil
}

// extractJSON pulls the first {...} block out of a completion that may
// carry prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
