package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintPrecedence(t *testing.T) {
	date := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	byContract := DataRecord{ContractID: "CT-1", DocumentNumber: "DOC-1", Organization: "26000", Date: date, Value: 100}
	byDocument := DataRecord{DocumentNumber: "DOC-1", Organization: "26000", Date: date, Value: 100}
	byTuple := DataRecord{Organization: "26000", Date: date, Value: 100}

	fps := map[string]bool{
		byContract.Fingerprint(): true,
		byDocument.Fingerprint(): true,
		byTuple.Fingerprint():    true,
	}
	assert.Len(t, fps, 3, "each precedence level keys differently")
}

func TestFingerprintNamespacing(t *testing.T) {
	// The same text as contract id and as document number must not collide.
	asContract := DataRecord{ContractID: "XYZ-1"}
	asDocument := DataRecord{DocumentNumber: "XYZ-1"}
	assert.NotEqual(t, asContract.Fingerprint(), asDocument.Fingerprint())
}

func TestFingerprintNormalizes(t *testing.T) {
	a := DataRecord{ContractID: "  ct-42 "}
	b := DataRecord{ContractID: "CT-42"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "trim and case-fold before hashing")
}

func TestFingerprintTupleStableAcrossZones(t *testing.T) {
	sp := time.FixedZone("BRT", -3*60*60)
	utc := DataRecord{Organization: "26000", Date: time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), Value: 1500}
	local := DataRecord{Organization: "26000", Date: time.Date(2026, 3, 10, 20, 0, 0, 0, sp), Value: 1500}
	assert.Equal(t, utc.Fingerprint(), local.Fingerprint(), "tuple key uses the UTC calendar date")
}
