package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/bankdesk/internal/schema"
)

// selection is the parsed answer of the category selection stage.
type selection struct {
	Category    string
	Confidence  float64
	TopicChange bool
	// TopicStated is set when the reply carried a TOPIC_CHANGE line.
	TopicStated bool
}

var (
	categoryLine   = regexp.MustCompile(`(?im)^\s*category\s*:\s*(.+)$`)
	confidenceLine = regexp.MustCompile(`(?i)confidence\s*:\s*([0-9]*\.?[0-9]+)\s*(%?)`)
	topicLine      = regexp.MustCompile(`(?i)topic[_ ]change\s*:\s*(yes|no|true|false)`)
	changeMarkers  = regexp.MustCompile(`(?i)\b(also|instead|another|different|something else|new issue|actually)\b`)
	jsonObject     = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseSelection reads a CATEGORY/CONFIDENCE/TOPIC_CHANGE reply. The
// selected name is the first known category in the reply; a name outside
// candidates is replaced by the first candidate at capped confidence.
func parseSelection(reply string, registry *schema.Registry, candidates []string) selection {
	var sel selection

	text := reply
	if m := categoryLine.FindStringSubmatch(reply); m != nil {
		text = m[1]
	}
	if names := registry.Match(text); len(names) > 0 {
		sel.Category = names[0]
	} else if names := registry.Match(reply); len(names) > 0 {
		sel.Category = names[0]
	}

	confidence, hasConfidence := 0.0, false
	if m := confidenceLine.FindStringSubmatch(reply); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] == "%" || v > 1 {
				v /= 100
			}
			confidence, hasConfidence = clamp(v), true
		}
	}

	if m := topicLine.FindStringSubmatch(reply); m != nil {
		answer := strings.ToLower(m[1])
		sel.TopicChange = answer == "yes" || answer == "true"
		sel.TopicStated = true
	}

	if sel.Category == "" || !contains(candidates, sel.Category) {
		sel.Category = candidates[0]
		if !hasConfidence || confidence > unlistedConfidence {
			confidence = unlistedConfidence
		}
		sel.Confidence = confidence
		return sel
	}

	if !hasConfidence {
		confidence = defaultConfidence
	}
	sel.Confidence = confidence
	return sel
}

const (
	// unlistedConfidence caps a selection that had to fall back to the
	// first candidate.
	unlistedConfidence = 0.4
	// defaultConfidence applies when a listed selection carries no score.
	defaultConfidence = 0.9
	// markerConfidence is the bar a selection must clear before the
	// customer's wording alone can move the conversation to it.
	markerConfidence = 0.8
)

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

// hasChangeMarker reports whether the customer's own words announce a new
// or different concern.
func hasChangeMarker(message string) bool {
	return changeMarkers.MatchString(message)
}

// switchRequested reports whether the conversation should leave current
// for the selected category. A current category that dropped out of the
// candidates is always left. Otherwise a stated TOPIC_CHANGE answer
// decides, and change markers in the message count only when the model gave
// no answer and is confident in the new selection.
func switchRequested(sel selection, current string, candidates []string, message string) bool {
	switch {
	case sel.Category == current:
		return false
	case !contains(candidates, current):
		return true
	case sel.TopicStated:
		return sel.TopicChange
	}
	return hasChangeMarker(message) && sel.Confidence >= markerConfidence
}

// extraction is the parsed answer of the detail extraction stage.
type extraction struct {
	Extracted   map[string]any `json:"extracted"`
	Corrections map[string]any `json:"corrections"`
}

// parseExtraction pulls the first {...} block out of the reply and decodes it.
func parseExtraction(reply string) (*extraction, error) {
	block := jsonObject.FindString(reply)
	if block == "" {
		return nil, fmt.Errorf("no JSON object in extraction")
	}
	var out extraction
	if err := json.Unmarshal([]byte(block), &out); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return &out, nil
}

// cleanValue turns an extracted JSON value into a stored string. Absent
// answers become "".
func cleanValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return ""
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "unknown", "n/a", "na", "null", "none":
		return ""
	}
	return s
}

// mergeResult reports what a merge changed.
type mergeResult struct {
	Added     []string `json:"added,omitempty"`
	Corrected []string `json:"corrected,omitempty"`
	Dropped   []string `json:"dropped,omitempty"`
}

// merge applies an extraction to data in place. Keys outside the category
// are dropped, new values only fill empty keys, and a filled key changes
// only through a correction whose value the customer's latest message
// actually contains.
func merge(category *schema.Category, data map[string]string, ex *extraction, message string) mergeResult {
	var res mergeResult
	lowered := strings.ToLower(message)

	for key, raw := range ex.Extracted {
		if !category.Has(key) {
			res.Dropped = append(res.Dropped, key)
			continue
		}
		value := cleanValue(raw)
		if value == "" || data[key] != "" {
			continue
		}
		data[key] = value
		res.Added = append(res.Added, key)
	}

	for key, raw := range ex.Corrections {
		if !category.Has(key) {
			res.Dropped = append(res.Dropped, key)
			continue
		}
		value := cleanValue(raw)
		if value == "" || value == data[key] {
			continue
		}
		if data[key] == "" {
			data[key] = value
			res.Added = append(res.Added, key)
			continue
		}
		if strings.Contains(lowered, strings.ToLower(value)) {
			data[key] = value
			res.Corrected = append(res.Corrected, key)
		}
	}
	return res
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
