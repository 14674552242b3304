package inspector

import (
	"bufio"
	gocontext "context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/audit"
	"github.com/cgast/dsverify/pkg/check"
	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/rule"
	"github.com/cgast/dsverify/pkg/session"
)

type fakeHistory []session.Session

func (f fakeHistory) History(n int) ([]session.Session, error) {
	if n < len(f) {
		return f[:n], nil
	}
	return f, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, *events.MemoryBus, *httptest.Server) {
	t.Helper()
	bus := events.NewMemoryBus(events.DefaultHistory)
	t.Cleanup(bus.Close)
	s := New(bus, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, bus, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusCountsEvents(t *testing.T) {
	_, bus, ts := newTestServer(t, Options{})

	ok := events.NewEvent(events.EventRegistryEnd, "a11y-landmarks", nil)
	ok.OK = true
	bus.Publish(ok)
	bus.Publish(events.NewEvent(events.EventRegistryEnd, "cta-hierarchy", nil))
	bus.Publish(events.NewEvent(events.EventSessionEnd, "s1", nil))

	var status map[string]any
	if code := getJSON(t, ts.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	want := map[string]float64{
		"events":            3,
		"registry_runs":     2,
		"registry_failures": 1,
		"sessions":          1,
		"failed_sessions":   1,
	}
	for k, v := range want {
		if status[k] != v {
			t.Errorf("%s = %v, want %v", k, status[k], v)
		}
	}
}

func TestSessionEndpoint(t *testing.T) {
	store := &session.MemoryStore{}
	_, _, ts := newTestServer(t, Options{Sessions: store})

	if code := getJSON(t, ts.URL+"/api/session", nil); code != http.StatusNotFound {
		t.Fatalf("empty store code = %d, want 404", code)
	}

	s := session.New([]session.StepResult{{Name: "build", OK: true}}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}
	var got session.Session
	if code := getJSON(t, ts.URL+"/api/session", &got); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	hist := fakeHistory{
		session.New(nil, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		session.New(nil, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	_, _, ts := newTestServer(t, Options{History: hist})

	var got []session.Session
	if code := getJSON(t, ts.URL+"/api/history?n=1", &got); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(got) != 1 || got[0].ID != hist[0].ID {
		t.Errorf("history = %+v, want newest only", got)
	}
	if code := getJSON(t, ts.URL+"/api/history?n=zero", nil); code != http.StatusBadRequest {
		t.Errorf("bad n code = %d, want 400", code)
	}
}

func TestRegistriesEndpoint(t *testing.T) {
	reg := rule.MustRegistry(rule.Definition{
		Name:    "cta-hierarchy",
		Concern: "call-to-action hierarchy",
		Rules: []rule.Rule{
			{Target: artifact.Target{Path: "src/components/AppNav.tsx"}, Kind: rule.KindAbsence, Marker: "Review Actions"},
		},
	})
	runner, err := check.NewRunner(artifact.Static{}, []*rule.Registry{reg})
	if err != nil {
		t.Fatal(err)
	}
	_, _, ts := newTestServer(t, Options{Runner: runner})

	var got []map[string]any
	getJSON(t, ts.URL+"/api/registries", &got)
	want := []map[string]any{{"name": "cta-hierarchy", "concern": "call-to-action hierarchy", "rules": float64(1)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("registries mismatch (-want +got):\n%s", diff)
	}
}

func TestAuditEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ux-audit-latest.json")
	rep := audit.FromScan(audit.ScanInput{Now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	if err := audit.Save(path, rep); err != nil {
		t.Fatal(err)
	}
	_, _, ts := newTestServer(t, Options{AuditPath: path})

	var got audit.Report
	if code := getJSON(t, ts.URL+"/api/audit", &got); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if got.BaselineDate != "2026-03-01" {
		t.Errorf("BaselineDate = %q", got.BaselineDate)
	}
}

func TestStreamReplaysHistory(t *testing.T) {
	_, bus, ts := newTestServer(t, Options{})
	bus.Publish(events.NewEvent(events.EventWatchTrigger, "src/App.tsx", nil))

	ctx, cancel := gocontext.WithTimeout(gocontext.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, `"watch.trigger"`) {
		t.Errorf("first line = %q", line)
	}
}
