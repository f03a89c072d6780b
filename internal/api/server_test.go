package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/lifesim/internal/config"
	"github.com/talgya/lifesim/internal/engine"
	"github.com/talgya/lifesim/internal/persistence"
	"github.com/talgya/lifesim/internal/world"
)

const testKey = "secret"

func newTestServer(t *testing.T, db *persistence.DB) (*Server, *httptest.Server) {
	t.Helper()
	settings := config.DefaultSimulation()
	settings.World.AgentsPerTeam = 2
	sim, err := engine.NewSimulation(10, 8, 11, settings, 16)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	eng := engine.NewEngine()
	eng.ReportEvery = 5
	eng.OnTick = func(uint64) { sim.Step() }
	eng.OnReport = func(uint64) {
		r := sim.Report()
		if db != nil {
			if err := db.SaveReport(r); err != nil {
				t.Errorf("SaveReport: %v", err)
			}
		}
	}
	if db != nil {
		if err := db.StartRun(sim.Run()); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		sim.OnReset = func(run engine.RunInfo) {
			if err := db.StartRun(run); err != nil {
				t.Errorf("StartRun: %v", err)
			}
		}
	}

	s := &Server{Sim: sim, Eng: eng, DB: db, AdminKey: testKey}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func post(t *testing.T, ts *httptest.Server, path, key, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestStatusAndCensus(t *testing.T) {
	s, ts := newTestServer(t, nil)

	var status struct {
		Run        engine.RunInfo `json:"run"`
		Tick       uint64         `json:"tick"`
		Population int            `json:"population"`
	}
	if code := get(t, ts, "/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Run.ID != s.Sim.Run().ID || status.Run.Seed != 11 || status.Tick != 0 {
		t.Fatalf("status = %+v", status)
	}

	var census world.Census
	get(t, ts, "/api/v1/census", &census)
	if census.Population != status.Population || census.Population == 0 {
		t.Fatalf("census population = %d, status population = %d", census.Population, status.Population)
	}
}

func TestMapAndSite(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var view engine.View
	if code := get(t, ts, "/api/v1/map", &view); code != http.StatusOK {
		t.Fatalf("map code = %d", code)
	}
	if view.Width != 10 || view.Height != 8 || len(view.Cells) != 80 {
		t.Fatalf("map = %dx%d, %d cells", view.Width, view.Height, len(view.Cells))
	}

	var cell engine.CellView
	if code := get(t, ts, "/api/v1/site/3/7", &cell); code != http.StatusOK {
		t.Fatalf("site code = %d", code)
	}
	if cell.X != 3 || cell.Y != 7 || cell != view.Cells[7*10+3] {
		t.Fatalf("site = %+v, map cell = %+v", cell, view.Cells[7*10+3])
	}

	for path, want := range map[string]int{
		"/api/v1/site/10/0": http.StatusNotFound,
		"/api/v1/site/0/-1": http.StatusNotFound,
		"/api/v1/site/a/1":  http.StatusBadRequest,
	} {
		if code := get(t, ts, path, nil); code != want {
			t.Errorf("GET %s = %d, want %d", path, code, want)
		}
	}
}

func TestAdminAuth(t *testing.T) {
	s, ts := newTestServer(t, nil)

	if code := post(t, ts, "/api/v1/step", "", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code := post(t, ts, "/api/v1/step", "wrong", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", code)
	}

	s.AdminKey = ""
	if code := post(t, ts, "/api/v1/step", testKey, "", nil); code != http.StatusForbidden {
		t.Fatalf("disabled admin = %d, want 403", code)
	}
	if code := get(t, ts, "/api/v1/step", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET step = %d, want 405", code)
	}
}

func TestStepAndReports(t *testing.T) {
	s, ts := newTestServer(t, nil)

	var census world.Census
	if code := post(t, ts, "/api/v1/step", testKey, `{"steps": 12}`, &census); code != http.StatusOK {
		t.Fatalf("step code = %d", code)
	}
	if census.Tick != 12 || s.Eng.Tick() != 12 {
		t.Fatalf("tick after step = %d (engine %d)", census.Tick, s.Eng.Tick())
	}
	if code := post(t, ts, "/api/v1/step", testKey, "", &census); code != http.StatusOK || census.Tick != 13 {
		t.Fatalf("default step: code=%d tick=%d", code, census.Tick)
	}

	var reports []engine.Report
	get(t, ts, "/api/v1/reports", &reports)
	if len(reports) != 2 || reports[0].Tick != 5 || reports[1].Tick != 10 {
		t.Fatalf("reports = %+v", reports)
	}
	get(t, ts, "/api/v1/reports?limit=1", &reports)
	if len(reports) != 1 || reports[0].Tick != 10 {
		t.Fatalf("limited reports = %+v", reports)
	}

	for _, body := range []string{`{"steps": 0}`, `{"steps": 100000}`, `{"steps": "x"}`, `{"bogus": 1}`} {
		if code := post(t, ts, "/api/v1/step", testKey, body, nil); code != http.StatusBadRequest {
			t.Errorf("step %s = %d, want 400", body, code)
		}
	}
	if code := get(t, ts, "/api/v1/reports?limit=0", nil); code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", code)
	}
}

func TestSpeed(t *testing.T) {
	s, ts := newTestServer(t, nil)

	var resp map[string]float64
	if code := post(t, ts, "/api/v1/speed", testKey, `{"speed": 0}`, &resp); code != http.StatusOK {
		t.Fatalf("speed code = %d", code)
	}
	if resp["speed"] != 0 || s.Eng.Speed() != 0 {
		t.Fatalf("speed = %v, engine = %v", resp["speed"], s.Eng.Speed())
	}
	for _, body := range []string{`{}`, `{"speed": -1}`, `{"speed": 5000}`} {
		if code := post(t, ts, "/api/v1/speed", testKey, body, nil); code != http.StatusBadRequest {
			t.Errorf("speed %s = %d, want 400", body, code)
		}
	}
}

func TestSpawn(t *testing.T) {
	s, ts := newTestServer(t, nil)

	// Find an empty site.
	x, y := -1, -1
	for _, c := range s.Sim.View().Cells {
		if !c.Occupied {
			x, y = c.X, c.Y
			break
		}
	}
	if x < 0 {
		t.Fatal("no empty site")
	}

	body := fmt.Sprintf(`{"x": %d, "y": %d, "team": 2}`, x, y)
	var cell engine.CellView
	if code := post(t, ts, "/api/v1/spawn", testKey, body, &cell); code != http.StatusCreated {
		t.Fatalf("spawn code = %d", code)
	}
	if !cell.Occupied || cell.Team != 2 || cell.AgentEnergy != s.Sim.Settings().Agent.EnergyAtStart {
		t.Fatalf("spawned cell = %+v", cell)
	}
	if code := post(t, ts, "/api/v1/spawn", testKey, body, nil); code != http.StatusConflict {
		t.Fatalf("occupied spawn = %d, want 409", code)
	}
	if code := post(t, ts, "/api/v1/spawn", testKey, `{"x": 99, "y": 0}`, nil); code != http.StatusBadRequest {
		t.Fatalf("out-of-range spawn = %d, want 400", code)
	}
	if code := post(t, ts, "/api/v1/spawn", testKey, `{"x": 0, "y": 0, "energy": -3}`, nil); code != http.StatusBadRequest {
		t.Fatalf("negative energy spawn = %d, want 400", code)
	}
}

func TestResetWithJournal(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, ts := newTestServer(t, db)
	first := s.Sim.Run()

	post(t, ts, "/api/v1/step", testKey, `{"steps": 10}`, nil)

	var run engine.RunInfo
	if code := post(t, ts, "/api/v1/reset", testKey, `{"seed": 99}`, &run); code != http.StatusOK {
		t.Fatalf("reset code = %d", code)
	}
	if run.ID == first.ID || run.Seed != 99 || run.Width != 10 || run.Height != 8 {
		t.Fatalf("reset run = %+v", run)
	}
	if s.Eng.Tick() != 0 || s.Sim.Tick() != 0 {
		t.Fatalf("ticks after reset: engine %d, sim %d", s.Eng.Tick(), s.Sim.Tick())
	}

	var runs []engine.RunInfo
	get(t, ts, "/api/v1/runs", &runs)
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}

	// The old run's reports stay in the journal after the reset.
	var reports []engine.Report
	get(t, ts, "/api/v1/reports?run="+first.ID, &reports)
	if len(reports) != 2 || reports[1].Tick != 10 || reports[0].RunID != first.ID {
		t.Fatalf("journal reports = %+v", reports)
	}
	get(t, ts, "/api/v1/reports", &reports)
	if len(reports) != 0 {
		t.Fatalf("current run reports = %+v, want none", reports)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other clients have their own budget")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Fatalf("RetryAfter = %d, want 61", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("budget should refill after the window")
	}
}

func TestAdminRateLimited(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.AdminRate = 1
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if code := post(t, ts, "/api/v1/step", testKey, "", nil); code != http.StatusOK {
		t.Fatalf("first step = %d", code)
	}
	if code := post(t, ts, "/api/v1/step", testKey, "", nil); code != http.StatusTooManyRequests {
		t.Fatalf("second step = %d, want 429", code)
	}
}

func TestStream(t *testing.T) {
	s, ts := newTestServer(t, nil)
	post(t, ts, "/api/v1/step", testKey, `{"steps": 5}`, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// Catch-up first, then live reports.
	var rep engine.Report
	if err := conn.ReadJSON(&rep); err != nil {
		t.Fatalf("read catch-up: %v", err)
	}
	if rep.Tick != 5 || rep.RunID != s.Sim.Run().ID {
		t.Fatalf("catch-up report = %d/%s", rep.Tick, rep.RunID)
	}

	// The subscription is registered before catch-up is written.
	post(t, ts, "/api/v1/step", testKey, `{"steps": 5}`, nil)
	if err := conn.ReadJSON(&rep); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if rep.Tick != 10 {
		t.Fatalf("live report tick = %d, want 10", rep.Tick)
	}
}

func TestNewerReport(t *testing.T) {
	last := &engine.Report{RunID: "a", Census: world.Census{Tick: 10}}
	cases := []struct {
		run  string
		tick uint64
		want bool
	}{
		{"a", 5, false},
		{"a", 10, false},
		{"a", 15, true},
		{"b", 5, true}, // A reset restarts ticks.
	}
	for _, c := range cases {
		rep := engine.Report{RunID: c.run, Census: world.Census{Tick: c.tick}}
		if got := newerReport(last, rep); got != c.want {
			t.Errorf("newerReport(%s/%d) = %v, want %v", c.run, c.tick, got, c.want)
		}
	}
	if !newerReport(nil, engine.Report{}) {
		t.Error("nothing sent yet, but report counted as stale")
	}
}

func TestResetWhileRunning(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.Eng.Interval = time.Millisecond
	done := make(chan struct{})
	go func() {
		s.Eng.Run(context.Background())
		close(done)
	}()

	for i := 0; i < 20; i++ {
		if code := post(t, ts, "/api/v1/reset", testKey, `{"seed": 3}`, nil); code != http.StatusOK {
			t.Fatalf("reset status %d", code)
		}
		time.Sleep(2 * time.Millisecond)
	}
	s.Eng.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if et, wt := s.Eng.Tick(), s.Sim.Tick(); et != wt {
		t.Fatalf("engine tick %d, world tick %d", et, wt)
	}
	for _, rep := range s.Sim.Reports(0) {
		if rep.Tick%5 != 0 {
			t.Fatalf("report at tick %d, not a multiple of 5", rep.Tick)
		}
	}
}

func TestMapGzip(t *testing.T) {
	_, ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/map", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
}
