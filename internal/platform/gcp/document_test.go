package gcp

import (
	"strings"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
)

func anchor(start, end int64) *documentaipb.Document_TextAnchor {
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}},
	}
}

func cell(start, end int64) *documentaipb.Document_Page_Table_TableCell {
	return &documentaipb.Document_Page_Table_TableCell{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(start, end)}}
}

func TestBuildOCRResultRendersTables(t *testing.T) {
	full := "TEST|RESULT GLUCOSE 127"
	doc := &documentaipb.Document{
		Text: full,
		Pages: []*documentaipb.Document_Page{{
			PageNumber: 1,
			Tables: []*documentaipb.Document_Page_Table{{
				HeaderRows: []*documentaipb.Document_Page_Table_TableRow{{
					Cells: []*documentaipb.Document_Page_Table_TableCell{cell(0, 11), cell(12, 19)},
				}},
				BodyRows: []*documentaipb.Document_Page_Table_TableRow{{
					Cells: []*documentaipb.Document_Page_Table_TableCell{cell(20, 23)},
				}},
			}},
		}},
	}

	res := buildOCRResult(doc, "projects/p/locations/us/processors/x", "application/pdf")
	if res.Pages != 1 {
		t.Fatalf("pages: want=1 got=%d", res.Pages)
	}
	if len(res.Tables) != 1 {
		t.Fatalf("tables: want=1 got=%d", len(res.Tables))
	}
	want := "| TEST\\|RESULT | GLUCOSE |\n| --- | --- |\n| 127 |  |"
	if res.Tables[0] != want {
		t.Fatalf("table: want=%q got=%q", want, res.Tables[0])
	}
	hint := res.Hint(0)
	if !strings.HasPrefix(hint, full) || !strings.Contains(hint, "| --- | --- |") {
		t.Fatalf("hint: got=%q", hint)
	}
	if got := res.Hint(4); got != "TEST" {
		t.Fatalf("truncated hint: want=%q got=%q", "TEST", got)
	}
}

func TestTextFromAnchorClampsBounds(t *testing.T) {
	if got := textFromAnchor("abc", anchor(1, 99)); got != "bc" {
		t.Fatalf("textFromAnchor: want=%q got=%q", "bc", got)
	}
	if got := textFromAnchor("abc", nil); got != "" {
		t.Fatalf("textFromAnchor(nil): want empty got=%q", got)
	}
}

func TestProcessorName(t *testing.T) {
	if got := processorName("p", "eu", "proc", ""); got != "projects/p/locations/eu/processors/proc" {
		t.Fatalf("processorName: got=%q", got)
	}
	if got := processorName("p", "eu", "proc", "v2"); !strings.HasSuffix(got, "/processorVersions/v2") {
		t.Fatalf("processorName with version: got=%q", got)
	}
	if got := processorName("", "eu", "proc", ""); got != "" {
		t.Fatalf("processorName without project: want empty got=%q", got)
	}
}

func TestDocumentConfigEnabled(t *testing.T) {
	if (DocumentConfig{ProjectID: "p"}).Enabled() {
		t.Fatalf("Enabled: want false without processor id")
	}
	if !(DocumentConfig{ProjectID: "p", ProcessorID: "x"}).Enabled() {
		t.Fatalf("Enabled: want true")
	}
}

func TestTableGridPromotesFirstBodyRow(t *testing.T) {
	full := "NAME VALUE LDL 99"
	table := &documentaipb.Document_Page_Table{
		BodyRows: []*documentaipb.Document_Page_Table_TableRow{
			{Cells: []*documentaipb.Document_Page_Table_TableCell{cell(0, 4), cell(5, 10)}},
			nil,
			{Cells: []*documentaipb.Document_Page_Table_TableCell{cell(11, 14), cell(15, 17), {}}},
		},
	}
	got := renderMarkdownTable(tableGrid(full, table))
	want := "| NAME | VALUE |  |\n| --- | --- | --- |\n| LDL | 99 |  |"
	if got != want {
		t.Fatalf("table: want=%q got=%q", want, got)
	}
	if renderMarkdownTable(tableGrid(full, &documentaipb.Document_Page_Table{})) != "" {
		t.Fatalf("empty table should render nothing")
	}
}
