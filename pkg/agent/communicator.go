package agent

import (
	"context"
	"strings"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// Communicator handles the conversational fast path: greetings, help
// and the clarifying prompts the coordinator surfaces for unplannable
// queries. No source fetch ever happens here.
type Communicator struct{}

// NewCommunicator returns the communicator agent.
func NewCommunicator() *Communicator { return &Communicator{} }

func (c *Communicator) ID() string { return "communicator" }

func (c *Communicator) Capabilities() []string {
	return []string{"greeting", "help", "clarification"}
}

func (c *Communicator) Initialize(ctx context.Context) error { return nil }
func (c *Communicator) Shutdown(ctx context.Context) error   { return nil }

func (c *Communicator) Reflect(ctx context.Context, resp *models.AgentResponse) QualityScore {
	// Conversational replies are template-driven; a retry cannot
	// improve them.
	return QualityScore{Score: resp.Confidence(), Retry: false}
}

func (c *Communicator) Process(ctx context.Context, msg models.AgentMessage, actx *models.AgentContext) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text string
	var suggestions []string
	switch msg.Action {
	case "greet":
		text = "Olá! Sou o assistente de transparência pública. Posso investigar contratos, " +
			"licitações, despesas e convênios de órgãos federais, estaduais e municipais. " +
			"Como posso ajudar?"
		suggestions = []string{
			"investigar contratos do Ministério da Saúde em 2024",
			"analisar gastos com educação em São Paulo",
		}
	case "help":
		text = "Você pode pedir investigações (\"investigar contratos do Ministério X\"), " +
			"análises de tendência (\"analisar a evolução de despesas\") ou relatórios " +
			"(\"gerar relatório das licitações de 2023\"). Posso filtrar por órgão, período, " +
			"valor e estado."
		suggestions = []string{"investigar licitações do FNDE", "gerar relatório de convênios de 2024"}
	case "clarify":
		missing, _ := msg.Payload["reason"].(string)
		text = "Preciso de mais detalhes para investigar. Informe o órgão, o período ou o tipo " +
			"de dado (contratos, licitações, despesas)."
		if strings.Contains(missing, "capability") {
			text = "Não identifiquei que tipo de dado você quer investigar. " +
				"Tente algo como \"investigar contratos do Ministério da Saúde em 2024\"."
		}
		suggestions = []string{"investigar contratos do Ministério da Saúde em 2024"}
	default:
		text = "Não entendi o pedido, mas posso ajudar com investigações de dados públicos. " +
			"Digite \"ajuda\" para ver exemplos."
	}

	return &models.AgentResponse{
		AgentName: c.ID(),
		Status:    models.AgentStatusCompleted,
		Result: map[string]any{
			"message":           text,
			"suggested_actions": suggestions,
		},
		Metadata:  map[string]any{"confidence": 0.95},
		Timestamp: time.Now().UTC(),
	}, nil
}
