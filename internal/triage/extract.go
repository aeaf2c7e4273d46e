package triage

import "strings"

// extractor is one known location for answer text inside a RawResponse.
type extractor func(r *RawResponse) string

// extractors probes every response shape observed across model API variants,
// in fixed priority order. Non-empty hits are concatenated rather than
// short-circuited: some variants split content across representations, and
// the decoder downstream tolerates duplicated payloads.
var extractors = []extractor{
	func(r *RawResponse) string { return r.OutputText },
	func(r *RawResponse) string {
		if len(r.Output) == 0 {
			return ""
		}
		parts := make([]string, 0, len(r.Output))
		for i := range r.Output {
			if s := itemText(&r.Output[i]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	},
	func(r *RawResponse) string { return firstItem(r).Text },
	func(r *RawResponse) string { return firstItem(r).Content.Text },
	func(r *RawResponse) string { return firstItem(r).Context.Text },
}

// Extract recovers a single text blob from a raw model response. It returns
// the newline-join of every non-empty candidate, or "" when the response
// carries no recognizable text anywhere. It never fails.
func Extract(r *RawResponse) string {
	if r == nil {
		return ""
	}
	var candidates []string
	seen := make(map[string]bool)
	for _, ex := range extractors {
		s := ex(r)
		if s == "" || seen[s] {
			// identical candidates collapse so a single-location response
			// still decodes as one clean JSON object
			continue
		}
		seen[s] = true
		candidates = append(candidates, s)
	}
	return strings.Join(candidates, "\n")
}

func itemText(it *OutputItem) string {
	if it.Text != "" {
		return it.Text
	}
	return it.Content.Text
}

func firstItem(r *RawResponse) *OutputItem {
	if len(r.Output) == 0 {
		return &OutputItem{}
	}
	return &r.Output[0]
}
