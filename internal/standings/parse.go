package standings

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// The standings block is a ReactVirtualized table; rows are rendered as
// buttons (current markup) or divs (older markup).
const (
	tableSelector = "div.ReactVirtualized__Table.ContestStandings_contest-standings-table"
	rowSelector   = "button.ReactVirtualized__Table__row.ContestStandings_row, " +
		"div.ReactVirtualized__Table__row.ContestStandings_row"
)

var numRe = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// Parse extracts standings entries from a contest page.
//
// A page without the standings table yields an empty, non-error result:
// the table disappears between contests and that is not a fetch failure.
// Rows missing every recognized field are skipped. The result is sorted
// by rank (stable, unranked rows last).
func Parse(html []byte) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("standings: parse html: %w", err)
	}

	table := doc.Find(tableSelector).First()
	if table.Length() == 0 {
		return nil, nil
	}

	var entries []Entry
	table.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		e, ok := parseRow(row)
		if ok {
			entries = append(entries, e)
		}
	})

	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Rank, entries[j].Rank
		if ri == 0 {
			return false
		}
		if rj == 0 {
			return true
		}
		return ri < rj
	})
	return entries, nil
}

func parseRow(row *goquery.Selection) (Entry, bool) {
	var e Entry
	found := false

	if txt := cellText(row, ".ContestStandings_rank-cell"); txt != "" {
		if v, ok := toInt(txt); ok {
			e.Rank = v
			found = true
		}
	}

	if txt := cellText(row, ".UsernameWithEntryIndex_team-name"); txt != "" {
		e.TeamName = txt
		found = true
	}

	// PMR lives in the time-remaining column; the inner cell span moved
	// between page revisions.
	pmr := cellText(row, `.column-timeRemaining [role="cell"] span`)
	if pmr == "" {
		pmr = cellText(row, ".column-timeRemaining span")
	}
	if v, ok := toInt(pmr); ok {
		e.PMR = v
		found = true
	}

	// FPTS: animated-number span first, then the bare cell. The cell text
	// sometimes carries a trailing "FPTS" label.
	fpts := firstText(row,
		".ContestStandings_fantasy-points-cell .AnimatedNumber_animated-number span",
		".ContestStandings_column-fantasyPoints .AnimatedNumber_animated-number span",
		".ContestStandings_fantasy-points-cell",
		".ContestStandings_column-fantasyPoints",
	)
	fpts = strings.TrimSpace(strings.ReplaceAll(fpts, "FPTS", ""))
	if v, ok := toFloat(fpts); ok {
		e.FPTS = v
		found = true
	}

	if txt := cellText(row, ".column-winnings"); txt != "" {
		if w, ok := toDecimal(txt); ok {
			e.Winnings = w
			found = true
		}
	}

	return e, found
}

func cellText(row *goquery.Selection, selector string) string {
	return strings.TrimSpace(row.Find(selector).First().Text())
}

func firstText(row *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if txt := cellText(row, sel); txt != "" {
			return txt
		}
	}
	return ""
}

func toInt(text string) (int, bool) {
	f, ok := toFloat(text)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toFloat(text string) (float64, bool) {
	m := numRe.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toDecimal(text string) (decimal.Decimal, bool) {
	m := numRe.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
