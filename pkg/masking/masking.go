// Package masking redacts Brazilian personal identifiers (CPF, CNPJ,
// e-mail, phone) from text before it reaches the public results
// endpoint or the logs.
package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns covers the identifiers that appear in transparency
// records. CPF/CNPJ match both the punctuated and the bare-digit forms.
var builtinPatterns = []*CompiledPattern{
	{
		Name:        "cpf",
		Regex:       regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b|\b\d{11}\b`),
		Replacement: "***CPF***",
	},
	{
		Name:        "cnpj",
		Regex:       regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b|\b\d{14}\b`),
		Replacement: "***CNPJ***",
	},
	{
		Name:        "email",
		Regex:       regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`),
		Replacement: "***EMAIL***",
	},
	{
		Name:        "phone",
		Regex:       regexp.MustCompile(`\(\d{2}\)\s?\d{4,5}-\d{4}`),
		Replacement: "***TELEFONE***",
	},
}

// Service applies the redaction patterns.
type Service struct {
	patterns []*CompiledPattern
}

// NewService builds a service with the built-in pattern set.
func NewService() *Service {
	return &Service{patterns: builtinPatterns}
}

// MaskText redacts every match of every pattern. CNPJ runs before CPF
// would not matter here: 14-digit sequences never match the CPF
// 11-digit form because of the word boundaries.
func (s *Service) MaskText(text string) string {
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// MaskMap redacts string values of a metadata map, leaving other value
// types untouched.
func (s *Service) MaskMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok {
			out[k] = s.MaskText(str)
			continue
		}
		out[k] = v
	}
	return out
}
