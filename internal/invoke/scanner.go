package invoke

import (
	"sort"
	"strings"

	"cmdloop/internal/domain"
)

// span is a half-open byte range [start, end) covering one container block.
type span struct {
	start, end int
}

type scanner struct {
	text string
	pos  int
}

// index returns the absolute offset of marker at or after pos, or -1.
func (s *scanner) index(marker string) int {
	if s.pos >= len(s.text) {
		return -1
	}
	i := strings.Index(s.text[s.pos:], marker)
	if i < 0 {
		return -1
	}
	return s.pos + i
}

// skipPast moves pos just after the next marker. It reports false when the
// marker does not occur again.
func (s *scanner) skipPast(marker string) bool {
	i := s.index(marker)
	if i < 0 {
		return false
	}
	s.pos = i + len(marker)
	return true
}

// nameAttribute reads ` name="value">` starting at pos and leaves pos after '>'.
func (s *scanner) nameAttribute() (string, bool) {
	rest := s.text[s.pos:]
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if !strings.HasPrefix(trimmed, nameAttr) {
		return "", false
	}
	i := s.pos + (len(rest) - len(trimmed)) + len(nameAttr)
	if i >= len(s.text) {
		return "", false
	}
	quote := s.text[i]
	if quote != '"' && quote != '\'' {
		return "", false
	}
	j := strings.IndexByte(s.text[i+1:], quote)
	if j < 0 {
		return "", false
	}
	value := s.text[i+1 : i+1+j]
	after := i + 1 + j + 1
	k := strings.IndexByte(s.text[after:], '>')
	if k < 0 {
		return "", false
	}
	s.pos = after + k + 1
	return strings.TrimSpace(value), true
}

// scanStructured walks every <function_calls> container in text.
func scanStructured(text string) ([]domain.ToolInvocation, []span) {
	var (
		calls  []domain.ToolInvocation
		blocks []span
	)
	s := &scanner{text: text}
	for {
		start := s.index(callsOpen)
		if start < 0 {
			return calls, blocks
		}
		s.pos = start + len(callsOpen)

		closed := false
		for {
			next := s.index(invokeOpen)
			end := s.index(callsClose)
			if end >= 0 && (next < 0 || end < next) {
				s.pos = end + len(callsClose)
				closed = true
				break
			}
			if next < 0 {
				break
			}
			s.pos = next + len(invokeOpen)
			call, ok := s.invocation()
			if !ok {
				break
			}
			if call.Name != "" {
				calls = append(calls, call)
			}
		}
		if !closed {
			blocks = append(blocks, span{start, len(text)})
			return calls, blocks
		}
		blocks = append(blocks, span{start, s.pos})
	}
}

// invocation reads one invoke block; pos is just past "<invoke". A block
// without a readable name is skipped and comes back with an empty name.
// ok is false only when the block is unterminated.
func (s *scanner) invocation() (domain.ToolInvocation, bool) {
	name, ok := s.nameAttribute()
	if !ok {
		return domain.ToolInvocation{}, s.skipPast(invokeClose)
	}
	var params domain.ParamsBuilder
	for {
		next := s.index(paramOpen)
		end := s.index(invokeClose)
		if end >= 0 && (next < 0 || end < next) {
			s.pos = end + len(invokeClose)
			return domain.ToolInvocation{Name: name, Parameters: params.Build()}, true
		}
		if next < 0 {
			return domain.ToolInvocation{}, false
		}
		s.pos = next + len(paramOpen)
		paramName, ok := s.nameAttribute()
		if !ok {
			if !s.skipPast(paramClose) {
				return domain.ToolInvocation{}, false
			}
			continue
		}
		valueEnd := s.index(paramClose)
		if valueEnd < 0 {
			return domain.ToolInvocation{}, false
		}
		value := s.text[s.pos:valueEnd]
		s.pos = valueEnd + len(paramClose)
		if paramName != "" {
			params.Set(paramName, value)
		}
	}
}

// scanLegacy walks every <tool_calls> container. Only parameter tags named in
// vocabulary are extracted, in the order they appear in the text.
func scanLegacy(text string, vocabulary []string) ([]domain.ToolInvocation, []span) {
	var (
		calls  []domain.ToolInvocation
		blocks []span
	)
	s := &scanner{text: text}
	for {
		start := s.index(legacyOpen)
		if start < 0 {
			return calls, blocks
		}
		s.pos = start + len(legacyOpen)
		end := s.index(legacyClose)
		if end < 0 {
			// Unterminated container: keep whole call blocks found before the cut.
			calls = append(calls, legacyCalls(text[s.pos:], vocabulary)...)
			blocks = append(blocks, span{start, len(text)})
			return calls, blocks
		}
		calls = append(calls, legacyCalls(text[s.pos:end], vocabulary)...)
		s.pos = end + len(legacyClose)
		blocks = append(blocks, span{start, s.pos})
	}
}

func legacyCalls(body string, vocabulary []string) []domain.ToolInvocation {
	var calls []domain.ToolInvocation
	s := &scanner{text: body}
	for {
		start := s.index(callOpen)
		if start < 0 {
			return calls
		}
		s.pos = start + len(callOpen)
		end := s.index(callClose)
		if end < 0 {
			return calls
		}
		block := body[s.pos:end]
		s.pos = end + len(callClose)

		name, ok := between(block, openTag(legacyName), closeTag(legacyName))
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		paramsBody, _ := between(block, openTag(legacyParams), closeTag(legacyParams))
		calls = append(calls, domain.ToolInvocation{
			Name:       name,
			Parameters: legacyParameters(paramsBody, vocabulary),
		})
	}
}

func legacyParameters(body string, vocabulary []string) domain.Params {
	type found struct {
		at    int
		name  string
		value string
	}
	var hits []found
	seen := make(map[string]bool, len(vocabulary))
	for _, name := range vocabulary {
		if seen[name] {
			continue
		}
		seen[name] = true
		open := openTag(name)
		at := strings.Index(body, open)
		if at < 0 {
			continue
		}
		value, ok := between(body[at:], open, closeTag(name))
		if !ok {
			continue
		}
		hits = append(hits, found{at: at, name: name, value: strings.Trim(value, "\r\n")})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at < hits[j].at })
	var params domain.ParamsBuilder
	for _, h := range hits {
		params.Set(h.name, h.value)
	}
	return params.Build()
}

// between returns the text between the first open marker and the next close marker.
func between(s, open, close string) (string, bool) {
	i := strings.Index(s, open)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
