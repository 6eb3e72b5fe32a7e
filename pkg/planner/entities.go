package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// Entity extraction over Portuguese transparency queries. Rule-based:
// the patterns below cover the organization, period, value, person and
// region mentions that actually occur in user queries; anything fancier
// belongs behind the LLM port.

var (
	orgPattern = regexp.MustCompile(`(?i)\b(minist[ée]rio\s+d[aeo]s?\s+[\wçãõáéíóúâê]+(?:\s+[\wçãõáéíóúâê]+)?|prefeitura\s+de\s+[\wçãõáéíóúâê\s]+?|secretaria\s+d[aeo]s?\s+[\wçãõáéíóúâê]+|fnde|inss|ibama|funai|incra|dnit|sus)\b`)

	yearPattern      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	yearRangePattern = regexp.MustCompile(`(?i)\bentre\s+((?:19|20)\d{2})\s+e\s+((?:19|20)\d{2})\b`)

	valuePattern = regexp.MustCompile(`(?i)(acima\s+de|abaixo\s+de|mais\s+de|menos\s+de)\s+r?\$?\s*([\d.,]+)\s*(mil|milh[õo]es|milh[ãa]o|bilh[õo]es|bilh[ãa]o)?`)

	personPattern = regexp.MustCompile(`(?i)\bservidor[a]?\s+([A-ZÁÉÍÓÚÂÊÔÃÕÇ][\wçãõáéíóúâê]+(?:\s+[A-ZÁÉÍÓÚÂÊÔÃÕÇ][\wçãõáéíóúâê]+)+)`)
)

// ufNames maps state names (lowercase) to UF codes for region filters.
var ufNames = map[string]string{
	"acre": "AC", "alagoas": "AL", "amapá": "AP", "amazonas": "AM",
	"bahia": "BA", "ceará": "CE", "espírito santo": "ES", "goiás": "GO",
	"maranhão": "MA", "mato grosso": "MT", "mato grosso do sul": "MS",
	"minas gerais": "MG", "pará": "PA", "paraíba": "PB", "paraná": "PR",
	"pernambuco": "PE", "piauí": "PI", "rio de janeiro": "RJ",
	"rio grande do norte": "RN", "rio grande do sul": "RS",
	"rondônia": "RO", "roraima": "RR", "santa catarina": "SC",
	"são paulo": "SP", "sergipe": "SE", "tocantins": "TO",
	"distrito federal": "DF",
}

// ExtractEntities returns the named entities found in text, grouped by
// kind. An empty map is a valid result.
func ExtractEntities(text string) map[models.EntityKind][]string {
	entities := make(map[models.EntityKind][]string)
	normalized := strings.ToLower(text)

	if orgs := orgPattern.FindAllString(text, -1); len(orgs) > 0 {
		seen := map[string]bool{}
		for _, o := range orgs {
			o = strings.TrimSpace(o)
			key := strings.ToLower(o)
			if !seen[key] {
				seen[key] = true
				entities[models.EntityOrganization] = append(entities[models.EntityOrganization], o)
			}
		}
	}

	if m := yearRangePattern.FindStringSubmatch(text); m != nil {
		entities[models.EntityDateRange] = []string{m[1] + "-" + m[2]}
	} else if years := yearPattern.FindAllString(text, -1); len(years) > 0 {
		entities[models.EntityDateRange] = years
	}

	if m := valuePattern.FindStringSubmatch(text); m != nil {
		entities[models.EntityValueRange] = []string{strings.TrimSpace(m[0])}
	}

	if m := personPattern.FindStringSubmatch(text); m != nil {
		entities[models.EntityPerson] = []string{m[1]}
	}

	// Longest state names first so "mato grosso do sul" beats "mato grosso".
	var region string
	for name, uf := range ufNames {
		if strings.Contains(normalized, name) && len(name) > len(region) {
			region = name
			entities[models.EntityGeographicRegion] = []string{uf}
		}
	}

	return entities
}

// FiltersFromEntities translates extracted entities into fetch filters.
func FiltersFromEntities(entities map[models.EntityKind][]string) models.Filters {
	var f models.Filters

	if orgs := entities[models.EntityOrganization]; len(orgs) > 0 {
		f.Organization = orgs[0]
	}
	if regions := entities[models.EntityGeographicRegion]; len(regions) > 0 {
		f.Region = regions[0]
	}
	if persons := entities[models.EntityPerson]; len(persons) > 0 {
		f.Person = persons[0]
	}

	if ranges := entities[models.EntityDateRange]; len(ranges) > 0 {
		from, to := parseDateRange(ranges[0])
		f.DateFrom, f.DateTo = from, to
	}

	if values := entities[models.EntityValueRange]; len(values) > 0 {
		minV, maxV := parseValueRange(values[0])
		f.MinValue, f.MaxValue = minV, maxV
	}

	return f
}

func parseDateRange(s string) (*time.Time, *time.Time) {
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 && len(parts[0]) == 4 {
		fromYear, err1 := strconv.Atoi(parts[0])
		toYear, err2 := strconv.Atoi(parts[1])
		if err1 == nil && err2 == nil {
			from := time.Date(fromYear, 1, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(toYear, 12, 31, 23, 59, 59, 0, time.UTC)
			return &from, &to
		}
	}
	if year, err := strconv.Atoi(s); err == nil && year >= 1900 {
		from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)
		return &from, &to
	}
	return nil, nil
}

func parseValueRange(s string) (float64, float64) {
	lower := strings.ToLower(s)
	m := valuePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0
	}

	numText := strings.ReplaceAll(m[2], ".", "")
	numText = strings.ReplaceAll(numText, ",", ".")
	value, err := strconv.ParseFloat(numText, 64)
	if err != nil {
		return 0, 0
	}
	switch {
	case strings.Contains(lower, "bilh"):
		value *= 1_000_000_000
	case strings.Contains(lower, "milh"):
		value *= 1_000_000
	case strings.Contains(lower, "mil"):
		value *= 1_000
	}

	if strings.HasPrefix(lower, "acima") || strings.HasPrefix(lower, "mais") {
		return value, 0
	}
	return 0, value
}
