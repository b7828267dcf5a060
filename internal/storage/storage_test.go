package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dkwatch/internal/standings"
	logx "dkwatch/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Driver: driver}
	switch driver {
	case "sqlite":
		cfg.Path = filepath.Join(dir, "standings.db")
	case "csvdir":
		cfg.Path = dir
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleSnapshot(takenAt time.Time) standings.Snapshot {
	return standings.Snapshot{
		TakenAt: takenAt,
		Entries: []standings.Entry{
			{Rank: 1, TeamName: "alpha", PMR: 120, FPTS: 187.5, Winnings: decimal.NewFromInt(500)},
			{Rank: 2, TeamName: "beta", PMR: 80, FPTS: 170.25, Winnings: decimal.NewFromInt(100)},
		},
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "csvdir"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			if _, err := st.LatestSnapshot(ctx); !errors.Is(err, ErrNoSnapshot) {
				t.Fatalf("empty store: err = %v, want ErrNoSnapshot", err)
			}

			want := sampleSnapshot(time.Now().Truncate(time.Second))
			if _, err := st.SaveSnapshot(ctx, want); err != nil {
				t.Fatal(err)
			}

			got, err := st.LatestSnapshot(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Entries) != len(want.Entries) {
				t.Fatalf("got %d entries, want %d", len(got.Entries), len(want.Entries))
			}
			for i, e := range got.Entries {
				w := want.Entries[i]
				if e.Rank != w.Rank || e.TeamName != w.TeamName || e.PMR != w.PMR || e.FPTS != w.FPTS {
					t.Errorf("entry %d = %+v, want %+v", i, e, w)
				}
				if !e.Winnings.Equal(w.Winnings) {
					t.Errorf("entry %d winnings = %s, want %s", i, e.Winnings, w.Winnings)
				}
			}
		})
	}
}

func TestSnapshotAt(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "csvdir"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			id, err := st.SaveSnapshot(ctx, sampleSnapshot(time.Now().Truncate(time.Second)))
			if err != nil {
				t.Fatal(err)
			}

			got, err := st.SnapshotAt(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Entries) != 2 {
				t.Fatalf("got %d entries, want 2", len(got.Entries))
			}

			if _, err := st.SnapshotAt(ctx, id+12345); !errors.Is(err, ErrNoSnapshot) {
				t.Fatalf("unknown id: err = %v, want ErrNoSnapshot", err)
			}
		})
	}
}

func TestLatestSnapshotIsNewest(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "csvdir"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			old := sampleSnapshot(time.Now().Add(-time.Hour).Truncate(time.Second))
			newer := standings.Snapshot{
				TakenAt: time.Now().Truncate(time.Second),
				Entries: []standings.Entry{{Rank: 1, TeamName: "gamma", FPTS: 10}},
			}
			if _, err := st.SaveSnapshot(ctx, old); err != nil {
				t.Fatal(err)
			}
			if _, err := st.SaveSnapshot(ctx, newer); err != nil {
				t.Fatal(err)
			}

			got, err := st.LatestSnapshot(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Entries) != 1 || got.Entries[0].TeamName != "gamma" {
				t.Fatalf("latest = %+v, want the gamma snapshot", got.Entries)
			}

			metas, err := st.ListSnapshots(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(metas) != 2 {
				t.Fatalf("got %d metas, want 2", len(metas))
			}
			if metas[0].EntryCount != 1 || metas[1].EntryCount != 2 {
				t.Errorf("metas = %+v, want newest first", metas)
			}
		})
	}
}

func TestRunHistory(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "csvdir"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			base := time.Now().Truncate(time.Second)
			runs := []Run{
				{StartedAt: base.Add(-2 * time.Minute), Duration: 800 * time.Millisecond, EntryCount: 20, OK: true},
				{StartedAt: base.Add(-time.Minute), Duration: 45 * time.Second, OK: false, Error: "fetch: unexpected status 403 Forbidden"},
				{StartedAt: base, Duration: 700 * time.Millisecond, EntryCount: 21, OK: true},
			}
			for _, r := range runs {
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatal(err)
				}
			}

			got, err := st.RecentRuns(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d runs, want 2", len(got))
			}
			// newest first
			if !got[0].OK || got[0].EntryCount != 21 {
				t.Errorf("runs[0] = %+v, want the newest run", got[0])
			}
			if got[1].OK || !strings.Contains(got[1].Error, "403") {
				t.Errorf("runs[1] = %+v, want the failed run", got[1])
			}
		})
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "csvdir"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			old := sampleSnapshot(time.Now().Add(-48 * time.Hour).Truncate(time.Second))
			recent := sampleSnapshot(time.Now().Truncate(time.Second))
			if _, err := st.SaveSnapshot(ctx, old); err != nil {
				t.Fatal(err)
			}
			if _, err := st.SaveSnapshot(ctx, recent); err != nil {
				t.Fatal(err)
			}

			n, err := st.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Fatalf("pruned %d snapshots, want 1", n)
			}

			metas, err := st.ListSnapshots(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(metas) != 1 {
				t.Fatalf("got %d metas after prune, want 1", len(metas))
			}
		})
	}
}

func TestCSVDirFileLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "csvdir", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	takenAt := time.Date(2026, 8, 26, 13, 45, 0, 0, time.Local)
	if _, err := st.SaveSnapshot(context.Background(), sampleSnapshot(takenAt)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "standings_20260826_134500.csv")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if lines[0] != "Rank,Team Name,PMR,FPTS,Winnings" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,alpha,120,187.5,500") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestCSVDirCollisionSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "csvdir", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	takenAt := time.Date(2026, 8, 26, 14, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		if _, err := st.SaveSnapshot(context.Background(), sampleSnapshot(takenAt)); err != nil {
			t.Fatal(err)
		}
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var csvs int
	for _, e := range ents {
		if strings.HasSuffix(e.Name(), ".csv") {
			csvs++
		}
	}
	if csvs != 3 {
		t.Fatalf("got %d csv files, want 3", csvs)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "standings.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveSnapshot(context.Background(), sampleSnapshot(time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	snap, err := st2.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("got %d entries after reopen, want 2", len(snap.Entries))
	}
}
