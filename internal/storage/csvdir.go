package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dkwatch/internal/standings"
	logx "dkwatch/pkg/logx"
)

// csvDirStore writes one standings_YYYYMMDD_HHMMSS.csv per snapshot plus a
// runs.jsonl sidecar, the layout the standalone download tooling produces.
type csvDirStore struct {
	dir string
	log logx.Logger

	mu sync.Mutex
}

const (
	csvPrefix     = "standings_"
	csvTimeLayout = "20060102_150405"
	runsFile      = "runs.jsonl"
)

var csvHeader = []string{"Rank", "Team Name", "PMR", "FPTS", "Winnings"}

func openCSVDir(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("csvdir path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, err
	}
	return &csvDirStore{dir: cfg.Path, log: log}, nil
}

func (s *csvDirStore) Close() error { return nil }

func (s *csvDirStore) SaveSnapshot(_ context.Context, snap standings.Snapshot) (int64, error) {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.snapshotPath(snap.TakenAt, 0)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = s.snapshotPath(snap.TakenAt, i)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return 0, err
	}
	for _, e := range snap.Entries {
		rec := []string{
			strconv.Itoa(e.Rank),
			e.TeamName,
			strconv.Itoa(e.PMR),
			strconv.FormatFloat(e.FPTS, 'f', -1, 64),
			e.Winnings.String(),
		}
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return snap.TakenAt.Unix(), nil
}

func (s *csvDirStore) LatestSnapshot(ctx context.Context) (standings.Snapshot, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return standings.Snapshot{}, err
	}
	if len(names) == 0 {
		return standings.Snapshot{}, ErrNoSnapshot
	}
	return s.readSnapshot(names[len(names)-1])
}

// SnapshotAt resolves an ID (the capture time in Unix seconds) back to a
// file. Collision-suffixed files share a second; the newest wins.
func (s *csvDirStore) SnapshotAt(_ context.Context, id int64) (standings.Snapshot, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return standings.Snapshot{}, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		if t, ok := snapshotTime(names[i]); ok && t.Unix() == id {
			return s.readSnapshot(names[i])
		}
	}
	return standings.Snapshot{}, ErrNoSnapshot
}

func (s *csvDirStore) ListSnapshots(_ context.Context, limit int) ([]SnapshotMeta, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var out []SnapshotMeta
	for i := len(names) - 1; i >= 0 && len(out) < limit; i-- {
		t, ok := snapshotTime(names[i])
		if !ok {
			continue
		}
		count, err := s.entryCount(names[i])
		if err != nil {
			return nil, err
		}
		out = append(out, SnapshotMeta{ID: t.Unix(), TakenAt: t, EntryCount: count})
	}
	return out, nil
}

func (s *csvDirStore) AppendRun(_ context.Context, r Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, runsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

func (s *csvDirStore) RecentRuns(_ context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	f, err := os.Open(filepath.Join(s.dir, runsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []Run
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Run
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue // tolerate torn writes
		}
		all = append(all, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// newest first, matching the sqlite driver
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (s *csvDirStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	names, err := s.snapshotNames()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, name := range names {
		t, ok := snapshotTime(name)
		if !ok || !t.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *csvDirStore) snapshotPath(t time.Time, seq int) string {
	name := csvPrefix + t.Format(csvTimeLayout)
	if seq > 0 {
		name += "_" + strconv.Itoa(seq)
	}
	return filepath.Join(s.dir, name+".csv")
}

func (s *csvDirStore) snapshotNames() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		name := ent.Name()
		if !ent.IsDir() && strings.HasPrefix(name, csvPrefix) && strings.HasSuffix(name, ".csv") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// snapshotTime recovers the capture time from a snapshot file name.
func snapshotTime(name string) (time.Time, bool) {
	base := strings.TrimSuffix(strings.TrimPrefix(name, csvPrefix), ".csv")
	if len(base) > len(csvTimeLayout) {
		base = base[:len(csvTimeLayout)] // drop collision suffix
	}
	t, err := time.ParseInLocation(csvTimeLayout, base, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *csvDirStore) readSnapshot(name string) (standings.Snapshot, error) {
	t, ok := snapshotTime(name)
	if !ok {
		return standings.Snapshot{}, fmt.Errorf("bad snapshot file name %q", name)
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return standings.Snapshot{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	recs, err := r.ReadAll()
	if err != nil {
		return standings.Snapshot{}, err
	}

	snap := standings.Snapshot{TakenAt: t}
	for i, rec := range recs {
		if i == 0 || len(rec) < 5 {
			continue // header / torn row
		}
		var e standings.Entry
		e.Rank, _ = strconv.Atoi(rec[0])
		e.TeamName = rec[1]
		e.PMR, _ = strconv.Atoi(rec[2])
		e.FPTS, _ = strconv.ParseFloat(rec[3], 64)
		if d, err := decimal.NewFromString(rec[4]); err == nil {
			e.Winnings = d
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

func (s *csvDirStore) entryCount(name string) (int, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if n > 0 {
		n-- // header
	}
	return n, nil
}
