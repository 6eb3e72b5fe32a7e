// Package federation runs N source fetches under a scheduling strategy
// (fallback, fastest, aggregate, parallel), with circuit-breaker gating,
// bounded retries, deduplication and per-source outcome classification.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/registry"
	"github.com/cidadao-ai/vigia/pkg/resilience"
)

// Fetcher retrieves records for one capability from one source.
// Implementations map source wire formats into models.DataRecord.
type Fetcher interface {
	// Fetch must respect ctx cancellation and classify failures with
	// the resilience wrappers (Transient/Permanent/Timeout/AuthFailure).
	Fetch(ctx context.Context, src registry.Source, cap models.Capability, filters models.Filters) ([]models.DataRecord, error)
}

// HTTPFetcher queries transparency APIs over plain HTTP JSON. Per-API
// adapter wire formats are out of scope; this fetcher speaks the common
// list-of-objects shape and maps well-known field names.
type HTTPFetcher struct {
	client *http.Client
	apiKey string
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, apiKey string) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		apiKey: apiKey,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, src registry.Source, cap models.Capability, filters models.Filters) ([]models.DataRecord, error) {
	if src.RequiresKey && f.apiKey == "" {
		return nil, resilience.AuthFailure(fmt.Errorf("source %s requires TRANSPARENCY_API_KEY", src.ID))
	}

	endpoint, err := buildURL(src, cap, filters)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if src.RequiresKey {
		req.Header.Set("chave-api-dados", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, resilience.Timeout(err)
		}
		return nil, resilience.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resilience.AuthFailure(fmt.Errorf("source %s: HTTP %d", src.ID, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.Transient(fmt.Errorf("source %s: HTTP 429", src.ID))
	case resp.StatusCode >= 500:
		return nil, resilience.Transient(fmt.Errorf("source %s: HTTP %d", src.ID, resp.StatusCode))
	default:
		return nil, resilience.Permanent(fmt.Errorf("source %s: HTTP %d", src.ID, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("reading %s response: %w", src.ID, err))
	}

	records, err := decodeRecords(src.ID, body)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	return records, nil
}

// capabilityPaths maps capabilities to the conventional API paths of the
// federal portal family. Sources with diverging layouts get dedicated
// paths in sources.yaml overrides.
var capabilityPaths = map[models.Capability]string{
	models.CapabilityContracts:     "/contratos",
	models.CapabilityServants:      "/servidores",
	models.CapabilityExpenses:      "/despesas",
	models.CapabilityBiddings:      "/licitacoes",
	models.CapabilitySanctions:     "/ceis",
	models.CapabilityTransfers:     "/convenios",
	models.CapabilityHealthData:    "/saude",
	models.CapabilityEducationData: "/educacao",
	models.CapabilityGeographic:    "/localidades",
}

func buildURL(src registry.Source, cap models.Capability, filters models.Filters) (string, error) {
	path, ok := capabilityPaths[cap]
	if !ok {
		return "", fmt.Errorf("no path mapping for capability %q", cap)
	}
	u, err := url.Parse(src.BaseEndpoint + path)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint for source %s: %w", src.ID, err)
	}

	q := u.Query()
	if filters.Organization != "" {
		q.Set("orgao", filters.Organization)
	}
	if filters.DateFrom != nil {
		q.Set("dataInicial", filters.DateFrom.Format("02/01/2006"))
	}
	if filters.DateTo != nil {
		q.Set("dataFinal", filters.DateTo.Format("02/01/2006"))
	}
	if filters.Person != "" {
		q.Set("nome", filters.Person)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeRecords accepts either a bare JSON array or an envelope with a
// "data"/"items" list and normalizes the well-known field names used
// across the portal family.
func decodeRecords(sourceID string, body []byte) ([]models.DataRecord, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		var envelope struct {
			Data  []map[string]any `json:"data"`
			Items []map[string]any `json:"items"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil {
			return nil, fmt.Errorf("source %s: undecodable response: %w", sourceID, err)
		}
		rows = envelope.Data
		if rows == nil {
			rows = envelope.Items
		}
	}

	records := make([]models.DataRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, normalizeRow(sourceID, row))
	}
	return records, nil
}

func normalizeRow(sourceID string, row map[string]any) models.DataRecord {
	rec := models.DataRecord{SourceID: sourceID, Raw: row}
	rec.ContractID = firstString(row, "numeroContrato", "numero_contrato", "contract_id", "id")
	rec.DocumentNumber = firstString(row, "numeroDocumento", "numero_documento", "document_number")
	rec.Organization = firstString(row, "orgao", "nomeOrgao", "unidadeGestora", "organization")
	rec.Supplier = firstString(row, "fornecedor", "nomeFornecedor", "supplier")
	rec.Description = firstString(row, "objeto", "descricao", "description")
	if v, ok := row["valor"].(float64); ok {
		rec.Value = v
	} else if v, ok := row["valorContrato"].(float64); ok {
		rec.Value = v
	} else if v, ok := row["value"].(float64); ok {
		rec.Value = v
	}
	for _, key := range []string{"dataAssinatura", "data", "date"} {
		if s, ok := row[key].(string); ok {
			for _, layout := range []string{"2006-01-02", "02/01/2006", time.RFC3339} {
				if t, err := time.Parse(layout, s); err == nil {
					rec.Date = t
					break
				}
			}
			if !rec.Date.IsZero() {
				break
			}
		}
	}
	return rec
}

func firstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := row[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
