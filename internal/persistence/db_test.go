package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/lifesim/internal/engine"
	"github.com/talgya/lifesim/internal/world"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRun(id string, started time.Time) engine.RunInfo {
	return engine.RunInfo{ID: id, Seed: 42, Width: 100, Height: 80, StartedAt: started}
}

func testReport(runID string, tick uint64) engine.Report {
	return engine.Report{
		RunID: runID,
		Census: world.Census{
			Tick:          tick,
			Population:    30 + int(tick),
			Teams:         map[int]int{0: 10, 3: 20 + int(tick)},
			AgentEnergy:   512.5,
			SiteEnergy:    9000.25,
			MaxGeneration: 4,
		},
		Activity: world.StepStats{Births: 3, Deaths: 1, Moves: 17, Crowded: 2, Stabilised: 5},
	}
}

func TestStartRunAndRuns(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if last, err := db.LastRun(); err != nil || last != "" {
		t.Fatalf("LastRun on empty db = %q, %v", last, err)
	}
	for i, id := range []string{"a", "b", "c"} {
		if err := db.StartRun(testRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("StartRun(%s): %v", id, err)
		}
	}
	if err := db.StartRun(testRun("a", base)); err == nil {
		t.Fatal("duplicate run id accepted")
	}

	runs, err := db.Runs(2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("Runs(2) = %+v", runs)
	}
	if !runs[1].StartedAt.Equal(base.Add(time.Minute)) || runs[1].Width != 100 || runs[1].Seed != 42 {
		t.Fatalf("run b round trip = %+v", runs[1])
	}
	if last, _ := db.LastRun(); last != "c" {
		t.Fatalf("LastRun = %q, want c", last)
	}
}

func TestSaveAndLoadReports(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	if err := db.StartRun(testRun("run-1", now)); err != nil {
		t.Fatal(err)
	}
	if err := db.StartRun(testRun("run-2", now)); err != nil {
		t.Fatal(err)
	}
	for tick := uint64(100); tick <= 500; tick += 100 {
		if err := db.SaveReport(testReport("run-1", tick)); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}
	if err := db.SaveReport(testReport("run-2", 100)); err != nil {
		t.Fatal(err)
	}

	all, err := db.Reports("run-1", 0)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(all) != 5 || all[0].Tick != 100 || all[4].Tick != 500 {
		t.Fatalf("Reports(run-1, 0) ticks = %d..%d (%d)", all[0].Tick, all[len(all)-1].Tick, len(all))
	}

	recent, err := db.Reports("run-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Tick != 400 || recent[1].Tick != 500 {
		t.Fatalf("Reports(run-1, 2) = %+v", recent)
	}

	got := recent[1]
	want := testReport("run-1", 500)
	if got.Population != want.Population || got.Activity != want.Activity ||
		got.AgentEnergy != want.AgentEnergy || got.SiteEnergy != want.SiteEnergy {
		t.Fatalf("report round trip = %+v, want %+v", got, want)
	}
	if len(got.Teams) != 2 || got.Teams[3] != 520 || got.Teams[0] != 10 {
		t.Fatalf("teams = %v", got.Teams)
	}

	other, _ := db.Reports("run-2", 10)
	if len(other) != 1 {
		t.Fatalf("run-2 reports = %d, want 1", len(other))
	}
}

func TestSaveReportNilTeams(t *testing.T) {
	db := openTestDB(t)
	if err := db.StartRun(testRun("empty", time.Now())); err != nil {
		t.Fatal(err)
	}
	r := testReport("empty", 1)
	r.Teams = nil
	if err := db.SaveReport(r); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	got, err := db.Reports("empty", 1)
	if err != nil || len(got) != 1 || len(got[0].Teams) != 0 {
		t.Fatalf("Reports = %+v, %v", got, err)
	}
}
