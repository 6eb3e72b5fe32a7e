package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DataRecord is one normalized record fetched from a transparency source.
// Adapters map their wire formats into this shape; the federation
// executor only relies on the fingerprint fields.
type DataRecord struct {
	SourceID       string         `json:"source_id"`
	ContractID     string         `json:"contract_id,omitempty"`
	DocumentNumber string         `json:"document_number,omitempty"`
	Organization   string         `json:"organization,omitempty"`
	Supplier       string         `json:"supplier,omitempty"`
	Description    string         `json:"description,omitempty"`
	Date           time.Time      `json:"date,omitempty"`
	Value          float64        `json:"value,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// Fingerprint derives the stable content key used for cross-source
// deduplication. Precedence: contract id, then document number, then
// the (organization, date, value) tuple. The key is namespaced by which
// field produced it so a contract id can never collide with a document
// number of the same text.
func (r *DataRecord) Fingerprint() string {
	var key string
	switch {
	case r.ContractID != "":
		key = "contract:" + strings.ToLower(strings.TrimSpace(r.ContractID))
	case r.DocumentNumber != "":
		key = "document:" + strings.ToLower(strings.TrimSpace(r.DocumentNumber))
	default:
		key = fmt.Sprintf("tuple:%s|%s|%.2f",
			strings.ToLower(strings.TrimSpace(r.Organization)),
			r.Date.UTC().Format("2006-01-02"),
			r.Value)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// SourceOutcome classifies the terminal state of one source fetch.
type SourceOutcome string

const (
	OutcomeOK               SourceOutcome = "ok"
	OutcomeTransientFailure SourceOutcome = "transient_failure"
	OutcomePermanentFailure SourceOutcome = "permanent_failure"
	OutcomeTimeout          SourceOutcome = "timeout"
	OutcomeCircuitOpen      SourceOutcome = "circuit_open"
)

// SourceResult is the per-source slice of a federated fetch.
type SourceResult struct {
	SourceID  string        `json:"source_id"`
	Outcome   SourceOutcome `json:"outcome"`
	Records   []DataRecord  `json:"records,omitempty"`
	Error     string        `json:"error,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// FederatedResult is the merged view produced by the federation executor.
type FederatedResult struct {
	Strategy       FetchStrategy             `json:"strategy"`
	Records        []DataRecord              `json:"records,omitempty"`
	BySource       map[string][]DataRecord   `json:"by_source,omitempty"`
	Outcomes       map[string]SourceResult   `json:"outcomes"`
	Provenance     map[string][]string       `json:"provenance,omitempty"`
	MissingSources []string                  `json:"missing_sources,omitempty"`
	Partial        bool                      `json:"partial"`
	Duplicates     int                       `json:"duplicates"`
}
