package standings

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func row(inner string) string {
	return `<button class="ReactVirtualized__Table__row ContestStandings_row">` + inner + `</button>`
}

func page(rows ...string) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><div class="ReactVirtualized__Table ContestStandings_contest-standings-table">`)
	for _, r := range rows {
		b.WriteString(r)
	}
	b.WriteString(`</div></body></html>`)
	return []byte(b.String())
}

const fullRow = `
<div class="ContestStandings_rank-cell">3rd</div>
<div class="UsernameWithEntryIndex_team-name">sharpshooter</div>
<div class="column-timeRemaining"><div role="cell"><span>142</span></div></div>
<div class="ContestStandings_fantasy-points-cell"><span class="AnimatedNumber_animated-number"><span>187.54</span></span></div>
<div class="column-winnings">$1,250.00</div>`

func TestParseFullRow(t *testing.T) {
	t.Parallel()

	entries, err := Parse(page(row(fullRow)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.Rank != 3 {
		t.Errorf("rank = %d, want 3", e.Rank)
	}
	if e.TeamName != "sharpshooter" {
		t.Errorf("team = %q", e.TeamName)
	}
	if e.PMR != 142 {
		t.Errorf("pmr = %d, want 142", e.PMR)
	}
	if e.FPTS != 187.54 {
		t.Errorf("fpts = %v, want 187.54", e.FPTS)
	}
	if !e.Winnings.Equal(decimal.NewFromFloat(1250)) {
		t.Errorf("winnings = %s, want 1250", e.Winnings)
	}
}

func TestParseOlderMarkup(t *testing.T) {
	t.Parallel()

	// div rows, bare time-remaining span, FPTS cell with trailing label
	html := page(`<div class="ReactVirtualized__Table__row ContestStandings_row">
		<div class="ContestStandings_rank-cell">1</div>
		<div class="UsernameWithEntryIndex_team-name">oldtimer</div>
		<div class="column-timeRemaining"><span>0</span></div>
		<div class="ContestStandings_column-fantasyPoints">201.1 FPTS</div>
	</div>`)

	entries, err := Parse(html)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.TeamName != "oldtimer" || e.Rank != 1 {
		t.Errorf("entry = %+v", e)
	}
	if e.FPTS != 201.1 {
		t.Errorf("fpts = %v, want 201.1", e.FPTS)
	}
	if e.PMR != 0 {
		t.Errorf("pmr = %d, want 0", e.PMR)
	}
}

func TestParseSortsByRank(t *testing.T) {
	t.Parallel()

	mk := func(rank, team string) string {
		return row(`<div class="ContestStandings_rank-cell">` + rank + `</div>` +
			`<div class="UsernameWithEntryIndex_team-name">` + team + `</div>`)
	}
	// out of order, plus one unranked row that must sort last
	entries, err := Parse(page(mk("2nd", "beta"), mk("", "nobody"), mk("1st", "alpha")))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	want := []string{"alpha", "beta", "nobody"}
	for i, name := range want {
		if entries[i].TeamName != name {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].TeamName, name)
		}
	}
}

func TestParseNoTable(t *testing.T) {
	t.Parallel()

	entries, err := Parse([]byte(`<html><body><h1>Contest not started</h1></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Fatalf("got %d entries, want none", len(entries))
	}
}

func TestParseEmptyInput(t *testing.T) {
	t.Parallel()

	entries, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Fatalf("got %v, want nil", entries)
	}
}

func TestParseSkipsEmptyRows(t *testing.T) {
	t.Parallel()

	entries, err := Parse(page(row(`<div class="spacer"></div>`), row(fullRow)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
}

func TestNumberExtraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"187.54", 187.54, true},
		{"1,250", 1250, true},
		{"$3,000.50", 3000.5, true},
		{"3rd", 3, true},
		{"--", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		got, ok := toFloat(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("toFloat(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
