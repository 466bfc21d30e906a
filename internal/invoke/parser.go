package invoke

import (
	"sort"
	"strings"

	"cmdloop/internal/domain"
)

// Vocabulary supplies the parameter tag names the legacy grammar looks up.
type Vocabulary interface {
	ParameterNames() []string
}

// StaticVocabulary is a fixed list of parameter names.
type StaticVocabulary []string

func (v StaticVocabulary) ParameterNames() []string { return v }

// Parser extracts invocations from model text.
type Parser struct {
	vocabulary Vocabulary
}

// NewParser returns a parser. vocabulary may be nil, in which case the legacy
// grammar yields invocations without parameters.
func NewParser(vocabulary Vocabulary) *Parser {
	return &Parser{vocabulary: vocabulary}
}

// Parse returns every invocation found in text, in textual order. The
// structured grammar wins; the legacy grammar is consulted only when the
// structured one yields nothing.
func (p *Parser) Parse(text string) []domain.ToolInvocation {
	if calls, _ := scanStructured(text); len(calls) > 0 {
		return calls
	}
	calls, _ := scanLegacy(text, p.names())
	return calls
}

func (p *Parser) names() []string {
	if p.vocabulary == nil {
		return nil
	}
	return p.vocabulary.ParameterNames()
}

// ContainsInvocations reports whether text has any container marker.
func ContainsInvocations(text string) bool {
	return strings.Contains(text, callsOpen) || strings.Contains(text, legacyOpen)
}

// ExtractNarrative returns text with all invocation containers removed,
// blank-line runs collapsed and surrounding whitespace trimmed.
func ExtractNarrative(text string) string {
	if !ContainsInvocations(text) {
		return strings.TrimSpace(text)
	}
	_, structured := scanStructured(text)
	_, legacy := scanLegacy(text, nil)
	blocks := mergeSpans(append(structured, legacy...))

	var b strings.Builder
	last := 0
	for _, sp := range blocks {
		b.WriteString(text[last:sp.start])
		last = sp.end
	}
	b.WriteString(text[last:])
	return collapseBlankLines(b.String())
}

func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		tail := &merged[len(merged)-1]
		if sp.start <= tail.end {
			if sp.end > tail.end {
				tail.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
