package dlp

import (
	"regexp"

	"github.com/upstac/platform/pkg/common/models"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Detector finds and masks patient identifiers in free text before it leaves
// the service (event payloads, notification bodies).
type Detector struct {
	rules []compiledRule
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

func (d *Detector) Detect(text string) models.PHIDetectionResult {
	if d == nil || text == "" {
		return models.PHIDetectionResult{}
	}

	var positions []models.PHIPosition
	seen := make(map[string]struct{})
	var phiTypes []string
	for _, rule := range d.rules {
		for _, match := range rule.re.FindAllStringIndex(text, -1) {
			positions = append(positions, models.PHIPosition{
				Start: match[0],
				End:   match[1],
				Type:  rule.rule.Type,
				Value: text[match[0]:match[1]],
			})
			if _, ok := seen[rule.rule.Type]; !ok {
				seen[rule.rule.Type] = struct{}{}
				phiTypes = append(phiTypes, rule.rule.Type)
			}
		}
	}

	return models.PHIDetectionResult{
		Detected:   len(positions) > 0,
		Confidence: confidenceScore(len(positions)),
		PHITypes:   phiTypes,
		Positions:  positions,
	}
}

func (d *Detector) MaskString(text string) string {
	if d == nil {
		return text
	}
	for _, rule := range d.rules {
		text = rule.re.ReplaceAllString(text, rule.rule.Mask)
	}
	return text
}

// Sanitize returns a copy of data with every string value masked.
func (d *Detector) Sanitize(data map[string]interface{}) map[string]interface{} {
	if d == nil {
		return data
	}

	copyMap := make(map[string]interface{}, len(data))
	for key, value := range data {
		copyMap[key] = d.sanitizeValue(value)
	}
	return copyMap
}

func (d *Detector) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return d.MaskString(v)
	case map[string]interface{}:
		return d.Sanitize(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = d.sanitizeValue(nested)
		}
		return out
	default:
		return value
	}
}

func confidenceScore(count int) float64 {
	switch {
	case count == 0:
		return 0
	case count == 1:
		return 0.7
	case count == 2:
		return 0.85
	default:
		return 0.95
	}
}
