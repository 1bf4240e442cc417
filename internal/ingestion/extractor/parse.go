package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
)

var requiredKeys = []string{"patient", "report_metadata", "panels"}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// Parse validates raw capability output and decodes it into an ExtractedReport.
// It returns the cleaned JSON alongside the report so callers can keep it for audit.
// Every structural problem is a *ingesterr.MalformedExtraction.
func Parse(raw string) (*labs.ExtractedReport, json.RawMessage, error) {
	text := cleanJSONText(raw)
	if text == "" {
		return nil, nil, ingesterr.Malformed("empty output", raw, nil)
	}
	if !json.Valid([]byte(text)) {
		text = repairJSON(text)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, nil, ingesterr.Malformed("output is not a JSON object", raw, err)
	}
	for _, key := range requiredKeys {
		v, ok := top[key]
		if !ok || isJSONNull(v) {
			return nil, nil, ingesterr.Malformed(fmt.Sprintf("missing top-level key %q", key), raw, nil)
		}
	}
	if !bytes.HasPrefix(bytes.TrimSpace(top["panels"]), []byte("[")) {
		return nil, nil, ingesterr.Malformed(`"panels" is not an array`, raw, nil)
	}

	var report labs.ExtractedReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, nil, ingesterr.Malformed("output does not match the report shape", raw, err)
	}
	if err := validate(&report); err != nil {
		return nil, nil, ingesterr.Malformed(err.Error(), raw, nil)
	}
	return &report, json.RawMessage(text), nil
}

func validate(r *labs.ExtractedReport) error {
	r.Patient.Name = strings.TrimSpace(r.Patient.Name)
	if r.Patient.Name == "" {
		return fmt.Errorf("patient.name is required")
	}
	for i := range r.Panels {
		p := &r.Panels[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("panels[%d].name is required", i)
		}
		for j := range p.Results {
			p.Results[j].Test = strings.TrimSpace(p.Results[j].Test)
			if p.Results[j].Test == "" {
				return fmt.Errorf("panels[%d].results[%d].test is required", i, j)
			}
		}
	}
	return nil
}

// cleanJSONText strips markdown fences and any prose around the outermost object.
func cleanJSONText(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// repairJSON drops trailing commas before a closing brace or bracket.
func repairJSON(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

func isJSONNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}
