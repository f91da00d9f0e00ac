package sipi

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// Element ids of the registry search pages.
const (
	selTrademarkSearch = "#MainContent_lnkTMSearch"
	selAdvancedSearch  = "#MainContent_ctrlTMSearch_lnkAdvanceSearch"
	selDateStart       = "#MainContent_ctrlTMSearch_txtCalCreationDateStart"
	selDateEnd         = "#MainContent_ctrlTMSearch_txtCalCreationDateEnd"
	selNiceClass       = "#MainContent_ctrlTMSearch_txtNiceClassification"
	selSearchButton    = "#MainContent_ctrlTMSearch_lnkbtnSearch > span.ui-button-text"
	selAppNumber       = "#MainContent_ctrlTMSearch_txtAppNr"
	selLookupButton    = "#MainContent_ctrlTMSearch_lnkbtnSearch"
	selOverlay         = "#overlay > div"

	selStatusDialog   = "#MainContent_ctrlTMSearch_ctrlCaseStatusSearchDialog_lnkBtnSearch"
	selStatusLiveFmt  = "#MainContent_ctrlTMSearch_ctrlCaseStatusSearchDialog_ctrlCaseStatusSearch_rbtnlLive_%d"
	selStatusSearch   = "#MainContent_ctrlTMSearch_ctrlCaseStatusSearchDialog_ctrlCaseStatusSearch_lnkbtnSearch > span.ui-button-text"
	selStatusAll      = "#MainContent_ctrlTMSearch_ctrlCaseStatusSearchDialog_ctrlCaseStatusSearch_ctrlCaseStatusList_gvCaseStatuss > tbody > tr.gridview_pager.alt1 > td > div:nth-child(1) > a:nth-child(1)"
	selStatusSelect   = "#MainContent_ctrlTMSearch_ctrlCaseStatusSearchDialog_lnkBtnSelect > span.ui-button-text"
	selResultCount    = "#MainContent_ctrlTMSearch_ctrlProcList_hdrNbItems"
	selCaseData       = "#MainContent_ctrlTM_panelCaseData"
	selNoResults      = "#MainContent_ctrlTMSearch_divHelp"
	selResultsTable   = "#MainContent_ctrlTMSearch_ctrlProcList_gvwIPCases"
	selLookupResult   = "#MainContent_ctrlTMSearch_gvSearchResults a"
	resultsTableID    = "MainContent_ctrlTMSearch_ctrlProcList_gvwIPCases"
	filingDateHeading = "Fecha de radicación"
	filingDateOption  = "Mostrar : Fecha de radicación"
	resultsPerPage    = "200"
	lastRowIndex      = 202
)

var statusSelectors = []string{
	"#MainContent_ctrlTM_lblCurrentStatus",
	"#MainContent_ctrlIRD_lblCurrentStatus",
}

var (
	postBackPattern = regexp.MustCompile(`__doPostBack\('([^']*)','([^']*)'`)
	numberPattern   = regexp.MustCompile(`\d[\d.,]*`)
	lineBreak       = regexp.MustCompile(`(?i)<br\s*/?>`)
	tag             = regexp.MustCompile(`<[^>]*>`)
)

// cell is one <td> of the results table.
type cell struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

type pageRow struct {
	Cells []cell `json:"cells"`
	Logo  string `json:"logo"`
}

// pageData is the content of one results page.
type pageData struct {
	Header string    `json:"header"`
	Rows   []pageRow `json:"rows"`
}

// extractPageJS reads every data row of the current results page.
var extractPageJS = fmt.Sprintf(`(() => {
	const table = document.getElementById(%[1]q);
	if (!table) return {header: "", rows: []};
	const th = table.querySelector("tbody > tr:nth-child(1) > th:nth-child(6)");
	const rows = [];
	for (let i = 2; i <= %[2]d; i++) {
		const tr = table.querySelector("tbody > tr:nth-child(" + i + ")");
		if (!tr || !tr.querySelector("td:nth-child(2)")) break;
		const cells = Array.from(tr.children).map(td => ({text: td.textContent || "", html: td.innerHTML || ""}));
		const pic = document.getElementById(%[1]q + "_hlnkCasePicture_" + (i - 2));
		rows.push({cells: cells, logo: pic ? (pic.getAttribute("href") || "") : ""});
	}
	return {header: th ? th.textContent : "", rows: rows};
})()`, resultsTableID, lastRowIndex)

// nextPageJS returns the href of the pager link after the current page.
func nextPageJS(current int) string {
	xpath := fmt.Sprintf(`//table[@id='%s']//span[text()='%d']/ancestor::td/following-sibling::td[1]/a`, resultsTableID, current)
	return fmt.Sprintf(`(() => {
	const a = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	return a ? (a.getAttribute("href") || "") : "";
})()`, xpath)
}

// onPageJS reports whether the pager shows page as current.
func onPageJS(page int) string {
	xpath := fmt.Sprintf(`//table[@id='%s']//tr[contains(@class,'gridview_pager')]//span[text()='%d']`, resultsTableID, page)
	return fmt.Sprintf(`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null`, xpath)
}

// visibleJS reports whether selector matches a rendered element.
func visibleJS(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	return !!el && el.getClientRects().length > 0 && getComputedStyle(el).visibility !== "hidden";
})()`, selector)
}

// textJS returns the trimmed text of selector or "".
func textJS(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	return el ? (el.textContent || "").trim() : "";
})()`, selector)
}

// setValueJS assigns an input value without triggering the date pickers.
func setValueJS(selector, value string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (el) el.value = %q; return !!el; })()`, selector, value)
}

// configureViewJS shows the filing date column and the largest page size.
// Each change triggers a postback; it returns how many selects changed.
func configureViewJS(step int) string {
	return fmt.Sprintf(`(() => {
	const pager = %q + " tr.gridview_pager";
	const pick = (sel, match) => {
		const s = document.querySelector(sel);
		if (!s) return false;
		const opt = Array.from(s.options).find(match);
		if (!opt || s.value === opt.value) return false;
		s.value = opt.value;
		s.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	};
	if (%d === 0) return pick(pager + " select.no-print", o => o.text.trim() === %q);
	return pick(pager + " select:not(.no-print)", o => o.value === %q);
})()`, selResultsTable, step, filingDateOption, resultsPerPage)
}

// postBackJS schedules an ASP.NET postback outside the evaluation so the
// navigation does not abort it.
func postBackJS(target, argument string) string {
	return fmt.Sprintf(`setTimeout(() => __doPostBack(%q, %q), 0)`, target, argument)
}

// parsePostBack extracts the event target and argument of a pager link.
func parsePostBack(href string) (target, argument string, ok bool) {
	m := postBackPattern.FindStringSubmatch(href)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// parseCount returns the largest number in the result count header.
func parseCount(text string) int {
	highest := 0
	for _, raw := range numberPattern.FindAllString(text, -1) {
		digits := strings.NewReplacer(".", "", ",", "").Replace(raw)
		if n, err := strconv.Atoi(digits); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// cleanText flattens a cell's text.
func cleanText(s string) string {
	return html.UnescapeString(strings.TrimSpace(strings.ReplaceAll(s, "\n", " ")))
}

// parseHolder splits a holder cell rendered with <br> separators.
func parseHolder(inner string) record.Holder {
	var out record.Holder
	for _, part := range lineBreak.Split(inner, -1) {
		name := cleanText(tag.ReplaceAllString(part, ""))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// logoURL builds the image URL of a case picture link.
func logoURL(href string) string {
	if href == "" {
		return ""
	}
	return href + "&fmt=jpeg"
}

// parseRow maps one table row to a raw entry. The column layout depends on
// whether the filing date column is shown. It reports false for rows with
// no content.
func parseRow(header string, row pageRow) (record.RawEntry, bool) {
	text := func(nth int) string {
		if nth-1 < len(row.Cells) {
			return cleanText(row.Cells[nth-1].Text)
		}
		return ""
	}
	holder := func(nth int) record.Holder {
		if nth-1 < len(row.Cells) {
			return parseHolder(row.Cells[nth-1].HTML)
		}
		return nil
	}

	e := record.RawEntry{
		RequestNumber:  text(2),
		RegistryNumber: text(3),
		Denomination:   text(4),
		LogoURL:        logoURL(row.Logo),
	}

	if strings.Contains(header, filingDateHeading) {
		e.FilingDate = text(6)
		e.ExpirationDate = text(7)
		e.Status = text(8)
		e.Holder = holder(9)
		e.NizaClass = text(10)
		e.GazetteNumber = text(11)
	} else {
		e.ExpirationDate = text(6)
		e.Status = text(7)
		e.Holder = holder(8)
		e.NizaClass = text(9)
		e.GazetteNumber = text(10)
	}

	return e, !e.IsBlank()
}
