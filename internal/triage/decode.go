package triage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fenceRe matches a markdown code fence with an optional json language tag.
// Models sometimes wrap the answer despite the instruction not to.
var fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// DecodeObject parses model text into a generic JSON object. If the text
// contains a fenced code block, only the fenced content is parsed; otherwise
// the trimmed whole text is. Syntactic failures return ErrMalformedResponse;
// semantic validation is ValidateTriage's job.
func DecodeObject(text string) (map[string]any, error) {
	content := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		content = m[1]
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: JSON null is not an object", ErrMalformedResponse)
	}
	// a second JSON value after the object means the text was not a single
	// raw object as instructed
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing content after JSON object", ErrMalformedResponse)
	}
	return obj, nil
}

// ValidateTriage checks a decoded object against the Triage invariants:
// summary and helpfulNotes are non-empty strings, priority is one of
// low/medium/high, relatedSkills is a sequence whose non-string entries are
// discarded rather than failing the whole result.
func ValidateTriage(obj map[string]any) (*Triage, error) {
	summary, err := stringField(obj, "summary")
	if err != nil {
		return nil, err
	}
	notes, err := stringField(obj, "helpfulNotes")
	if err != nil {
		return nil, err
	}
	prio, err := stringField(obj, "priority")
	if err != nil {
		return nil, err
	}
	priority := Priority(strings.ToLower(strings.TrimSpace(prio)))
	if !ValidPriority(priority) {
		return nil, fmt.Errorf("%w: priority %q not in {low, medium, high}", ErrInvalidTriageShape, prio)
	}

	skills := []string{}
	if raw, ok := obj["relatedSkills"]; ok && raw != nil {
		seq, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: relatedSkills is not a sequence", ErrInvalidTriageShape)
		}
		for _, v := range seq {
			if s, ok := v.(string); ok && s != "" {
				skills = append(skills, s)
			}
		}
	}

	return &Triage{
		Summary:       summary,
		Priority:      priority,
		HelpfulNotes:  notes,
		RelatedSkills: skills,
	}, nil
}

func stringField(obj map[string]any, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidTriageShape, key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is not a non-empty string", ErrInvalidTriageShape, key)
	}
	return s, nil
}
