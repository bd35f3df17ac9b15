package orchestrator

import (
	"strings"

	"github.com/thinksystem/sleet/value"
)

// renderTemplate substitutes every "{{dot.path}}" placeholder in tmpl with
// the corresponding state value's string form (spec §4.7: LLMProcessing's
// prompt_template is plain text with state interpolation, distinct from
// Compute/Conditional/AwaitInput/Display's compiled expression fields — an
// unresolved path that is not addressable leaves its placeholder intact
// rather than failing the dispatch, since a missing interpolation value
// ("not yet known") is a normal path for an in-progress flow).
func renderTemplate(tmpl string, state *value.ScopedState) string {
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		if v, err := state.Get(path); err == nil {
			b.WriteString(v.String())
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}
