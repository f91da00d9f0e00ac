package sipi

import (
	"strings"
	"testing"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

func cells(texts ...string) []cell {
	out := make([]cell, len(texts))
	for i, t := range texts {
		out[i] = cell{Text: t, HTML: t}
	}
	return out
}

func TestParseRow_WithFilingDate(t *testing.T) {
	row := pageRow{
		Cells: cells("", "SD2021/0001", "654321", "ACME &amp; CO", "",
			"10 ene. 2021", "10 ene. 2031", "Registrada", "", "25", "912"),
		Logo: "https://sipi.sic.gov.co/pic?id=1",
	}
	row.Cells[8].HTML = "ACME S.A.S.<br>OTRA\n LTDA<BR/>"

	got, ok := parseRow("Fecha de radicación", row)
	if !ok {
		t.Fatal("parseRow() ok = false, want true")
	}

	want := record.RawEntry{
		RequestNumber:  "SD2021/0001",
		RegistryNumber: "654321",
		Denomination:   "ACME & CO",
		LogoURL:        "https://sipi.sic.gov.co/pic?id=1&fmt=jpeg",
		FilingDate:     "10 ene. 2021",
		ExpirationDate: "10 ene. 2031",
		Status:         "Registrada",
		Holder:         record.Holder{"ACME S.A.S.", "OTRA  LTDA"},
		NizaClass:      "25",
		GazetteNumber:  "912",
	}
	if got.RequestNumber != want.RequestNumber || got.Denomination != want.Denomination ||
		got.LogoURL != want.LogoURL || got.FilingDate != want.FilingDate ||
		got.ExpirationDate != want.ExpirationDate || got.Status != want.Status ||
		got.NizaClass != want.NizaClass || got.GazetteNumber != want.GazetteNumber {
		t.Errorf("parseRow() = %+v, want %+v", got, want)
	}
	if len(got.Holder) != 2 || got.Holder[0] != want.Holder[0] || got.Holder[1] != want.Holder[1] {
		t.Errorf("Holder = %q, want %q", got.Holder, want.Holder)
	}
}

func TestParseRow_WithoutFilingDate(t *testing.T) {
	row := pageRow{Cells: cells("", "SD2", "", "MARCA", "", "01 feb. 2030", "Negada", "TITULAR", "9", "100")}

	got, ok := parseRow("Fecha de vencimiento", row)
	if !ok {
		t.Fatal("parseRow() ok = false, want true")
	}
	if got.FilingDate != "" {
		t.Errorf("FilingDate = %q, want empty", got.FilingDate)
	}
	if got.ExpirationDate != "01 feb. 2030" || got.Status != "Negada" || got.NizaClass != "9" || got.GazetteNumber != "100" {
		t.Errorf("parseRow() = %+v", got)
	}
	if len(got.Holder) != 1 || got.Holder[0] != "TITULAR" {
		t.Errorf("Holder = %q, want [TITULAR]", got.Holder)
	}
	if got.LogoURL != "" {
		t.Errorf("LogoURL = %q, want empty", got.LogoURL)
	}
}

func TestParseRow_BlankAndShortRows(t *testing.T) {
	if _, ok := parseRow("", pageRow{Cells: cells(" ", "\n", "")}); ok {
		t.Error("parseRow() ok = true for blank row")
	}

	got, ok := parseRow("Fecha de radicación", pageRow{Cells: cells("", "SD3")})
	if !ok || got.RequestNumber != "SD3" || got.Status != "" {
		t.Errorf("parseRow() = %+v, %v", got, ok)
	}
}

func TestParsePostBack(t *testing.T) {
	target, arg, ok := parsePostBack("javascript:__doPostBack('ctl00$MainContent$gvwIPCases','Page$3')")
	if !ok {
		t.Fatal("parsePostBack() ok = false")
	}
	if target != "ctl00$MainContent$gvwIPCases" || arg != "Page$3" {
		t.Errorf("parsePostBack() = %q, %q", target, arg)
	}

	if _, _, ok := parsePostBack("https://example.com/next"); ok {
		t.Error("parsePostBack() ok = true for plain link")
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Resultados 1 - 200 de 1.534", 1534},
		{"Se encontraron 2000 elementos", 2000},
		{"Resultados 1 - 12 de 12", 12},
		{"", 0},
		{"sin resultados", 0},
	}

	for _, tt := range tests {
		if got := parseCount(tt.text); got != tt.want {
			t.Errorf("parseCount(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestParseHolder(t *testing.T) {
	got := parseHolder("<span>UNO</span><br />DOS &amp; CIA<br><br>")
	if len(got) != 2 || got[0] != "UNO" || got[1] != "DOS & CIA" {
		t.Errorf("parseHolder() = %q", got)
	}
}

func TestScripts_EmbedSelectors(t *testing.T) {
	if !strings.Contains(nextPageJS(4), "span[text()='4']") {
		t.Error("nextPageJS() does not reference the current page")
	}
	if !strings.Contains(onPageJS(5), "span[text()='5']") {
		t.Error("onPageJS() does not reference the page")
	}
	if !strings.Contains(postBackJS("a$b", "Page$2"), `__doPostBack("a$b", "Page$2")`) {
		t.Errorf("postBackJS() = %s", postBackJS("a$b", "Page$2"))
	}
	if !strings.Contains(configureViewJS(1), `"200"`) {
		t.Error("configureViewJS(1) does not select the page size")
	}
}
