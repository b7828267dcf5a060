// Package standings defines the contest standings model and the HTML
// parser that extracts it from a DraftKings contest page.
package standings

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one contestant row: rank, team name, player minutes remaining,
// fantasy points, and any winnings currently attached to the position.
type Entry struct {
	Rank     int             `json:"rank"`
	TeamName string          `json:"team_name"`
	PMR      int             `json:"pmr"`
	FPTS     float64         `json:"fpts"`
	Winnings decimal.Decimal `json:"winnings"`
}

// Snapshot is the full standings table captured at one poll tick.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Entries []Entry   `json:"entries"`
}
