package labs

import (
	"encoding/json"
	"strings"
	"time"
)

// ExtractedReport is the structured result of one document extraction.
// All three top-level sections are required; panels may be empty.
type ExtractedReport struct {
	Patient        ExtractedPatient `json:"patient"`
	ReportMetadata ReportMetadata   `json:"report_metadata"`
	Panels         []ExtractedPanel `json:"panels"`
}

type ExtractedPatient struct {
	Name        string       `json:"name"`
	PatientID   string       `json:"patient_id,omitempty"`
	DateOfBirth string       `json:"dob,omitempty"`
	Sex         string       `json:"sex,omitempty"`
	Age         *ResultValue `json:"age,omitempty"`
}

type ReportMetadata struct {
	OrderingPhysician string `json:"ordering_physician,omitempty"`
	Collected         string `json:"collected,omitempty"`
	Received          string `json:"received,omitempty"`
	Reported          string `json:"reported,omitempty"`
	SpecimenType      string `json:"specimen_type,omitempty"`
	LabName           string `json:"lab_name,omitempty"`
	LabAddress        string `json:"lab_address,omitempty"`
	AccessionNumber   string `json:"accession_number,omitempty"`
}

type ExtractedPanel struct {
	Name       string            `json:"name"`
	ReportedAt string            `json:"reported_at,omitempty"`
	Status     string            `json:"status,omitempty"`
	LabName    string            `json:"lab_name,omitempty"`
	Results    []ExtractedResult `json:"results"`
}

type ExtractedResult struct {
	Test           string      `json:"test"`
	Result         ResultValue `json:"result"`
	Flag           string      `json:"flag,omitempty"`
	Units          string      `json:"units,omitempty"`
	ReferenceRange string      `json:"reference_range"`
	Note           string      `json:"note,omitempty"`
}

// UnmarshalJSON accepts "result_value" as an alias of "result".
func (r *ExtractedResult) UnmarshalJSON(data []byte) error {
	type plain ExtractedResult
	var aux struct {
		plain
		ResultValue *ResultValue `json:"result_value"`
	}
	aux.plain.Result = ResultValue{Kind: ValueNull}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ExtractedResult(aux.plain)
	if r.Result.IsNull() && aux.ResultValue != nil {
		r.Result = *aux.ResultValue
	}
	return nil
}

// ResultCount is the total number of results across panels.
func (r *ExtractedReport) ResultCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, p := range r.Panels {
		n += len(p.Results)
	}
	return n
}

var reportTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006 15:04",
	"1/2/2006",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006 15:04",
	"02-Jan-2006",
}

// ParseReportTime parses the timestamp formats lab reports commonly print.
// Unparseable or blank input yields nil.
func ParseReportTime(raw string) *time.Time {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return nil
	}
	for _, layout := range reportTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
