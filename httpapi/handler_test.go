package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/teleregnet/syncbridge"
	"github.com/teleregnet/syncbridge/conflict"
	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/fetch"
	"github.com/teleregnet/syncbridge/record"
	"github.com/teleregnet/syncbridge/session"
)

type stubService struct {
	startResult *syncbridge.SyncResult
	startErr    error
	stopResult  bool
	stopErr     error
	sessions    []session.SyncSession
	unresolved  []conflict.ConflictData
	history     []conflict.ConflictData
	stats       conflict.Stats
	resolveOK   bool
	resolveErr  error
	batch       conflict.BatchResult
	deleteOK    bool
	deleteErr   error

	lastAgency   string
	lastConflict string
	lastStrategy conflict.Strategy
	lastConfig   fetch.Config
	lastRecord   string
}

func (s *stubService) StartSync(_ context.Context, agencyID string, cfg fetch.Config) (*syncbridge.SyncResult, error) {
	s.lastAgency = agencyID
	s.lastConfig = cfg
	return s.startResult, s.startErr
}

func (s *stubService) StopSync(_ context.Context, sessionID string) (bool, error) {
	return s.stopResult, s.stopErr
}

func (s *stubService) GetActiveSessions(_ context.Context, agencyID string) ([]session.SyncSession, error) {
	s.lastAgency = agencyID
	return s.sessions, nil
}

func (s *stubService) GetUnresolvedConflicts(_ context.Context, agencyID string) ([]conflict.ConflictData, error) {
	s.lastAgency = agencyID
	return s.unresolved, nil
}

func (s *stubService) GetConflictHistory(_ context.Context, agencyID string) ([]conflict.ConflictData, error) {
	s.lastAgency = agencyID
	return s.history, nil
}

func (s *stubService) GetResolutionStats(_ context.Context, agencyID string) (conflict.Stats, error) {
	s.lastAgency = agencyID
	return s.stats, nil
}

func (s *stubService) ResolveConflict(_ context.Context, conflictID string, _ any, strategy conflict.Strategy, _ string) (bool, error) {
	s.lastConflict = conflictID
	s.lastStrategy = strategy
	return s.resolveOK, s.resolveErr
}

func (s *stubService) AutoResolveConflicts(_ context.Context, agencyID string, strategy conflict.Strategy) (conflict.BatchResult, error) {
	s.lastAgency = agencyID
	s.lastStrategy = strategy
	return s.batch, nil
}

func (s *stubService) DeleteRecord(_ context.Context, recordID string) (bool, error) {
	s.lastRecord = recordID
	return s.deleteOK, s.deleteErr
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartSync(t *testing.T) {
	svc := &stubService{startResult: &syncbridge.SyncResult{
		Success:             true,
		SyncSessionID:       "s1",
		OperationsProcessed: 12,
	}}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/sync/start",
		`{"agency_id":"agency-fr","source":"https://arcep.example/export","timeout":"5s"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result syncbridge.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.SyncSessionID != "s1" || result.OperationsProcessed != 12 {
		t.Errorf("unexpected result: %+v", result)
	}
	if svc.lastAgency != "agency-fr" {
		t.Errorf("agency = %q", svc.lastAgency)
	}
	if svc.lastConfig.Source != "https://arcep.example/export" {
		t.Errorf("source = %q", svc.lastConfig.Source)
	}
	if svc.lastConfig.Timeout.Seconds() != 5 {
		t.Errorf("timeout = %s", svc.lastConfig.Timeout)
	}
}

func TestStartSyncValidation(t *testing.T) {
	h := NewHandler(&stubService{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/sync/start", `{"source":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing agency_id: status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/sync/start", `{"agency_id":"a","timeout":"soon"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad timeout: status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/sync/start", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d", rec.Code)
	}
}

func TestStartSyncActiveSessionConflict(t *testing.T) {
	svc := &stubService{startResult: &syncbridge.SyncResult{
		Success: false,
		Code:    syncErrors.ErrCodeSessionActive,
		Errors:  []string{syncErrors.ErrSessionAlreadyActive.Error()},
	}}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/sync/start", `{"agency_id":"agency-fr"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// A second start against a real engine, while the first still holds the
// agency guard inside its fetch, must come back as 409 rather than 200.
func TestStartSyncConflictWithRealEngine(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetch.FetcherFunc(func(ctx context.Context, _ string, _ fetch.Config) ([]record.RemoteRecord, error) {
		close(entered)
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	engine := syncbridge.New(session.NewMemoryStore(), record.NewMemoryStore(), conflict.NewMemoryStore(), fetcher)
	h := NewHandler(engine, nil)

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- doRequest(t, h, http.MethodPost, "/sync/start", `{"agency_id":"agency-fr"}`)
	}()
	<-entered

	rec := doRequest(t, h, http.MethodPost, "/sync/start", `{"agency_id":"agency-fr"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start: status = %d, body = %s, want 409", rec.Code, rec.Body.String())
	}
	var result syncbridge.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Code != syncErrors.ErrCodeSessionActive {
		t.Errorf("result = %+v, want session-active failure", result)
	}

	close(release)
	if first := <-firstDone; first.Code != http.StatusOK {
		t.Errorf("first start: status = %d, body = %s", first.Code, first.Body.String())
	}
}

func TestStopSync(t *testing.T) {
	svc := &stubService{stopResult: true}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/sync/stop", `{"session_id":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body["stopped"] {
		t.Error("stopped = false, want true")
	}

	rec = doRequest(t, h, http.MethodPost, "/sync/stop", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing session_id: status = %d", rec.Code)
	}
}

func TestReadEndpointsRequireAgency(t *testing.T) {
	h := NewHandler(&stubService{}, nil)
	for _, path := range []string{"/sync/sessions", "/conflicts", "/conflicts/history", "/conflicts/stats"} {
		rec := doRequest(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s without agency: status = %d", path, rec.Code)
		}
	}
}

func TestUnresolvedConflictsEmptyIsJSONArray(t *testing.T) {
	h := NewHandler(&stubService{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/conflicts?agency=agency-fr", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestResolveConflict(t *testing.T) {
	svc := &stubService{resolveOK: true}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/conflicts/resolve",
		`{"conflict_id":"c1","resolved_value":"Guide EN","strategy":"manual","resolved_by":"reviewer"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastConflict != "c1" || svc.lastStrategy != conflict.StrategyManual {
		t.Errorf("conflict = %q strategy = %q", svc.lastConflict, svc.lastStrategy)
	}

	rec = doRequest(t, h, http.MethodPost, "/conflicts/resolve",
		`{"conflict_id":"c1","strategy":"coin-flip"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad strategy: status = %d", rec.Code)
	}
}

func TestResolveConflictNotFound(t *testing.T) {
	svc := &stubService{resolveErr: syncErrors.ErrConflictNotFound}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/conflicts/resolve",
		`{"conflict_id":"missing","strategy":"remote-wins"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAutoResolve(t *testing.T) {
	svc := &stubService{batch: conflict.BatchResult{Resolved: 3, Failed: 1}}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/conflicts/auto-resolve",
		`{"agency_id":"agency-fr","strategy":"newest-wins"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result conflict.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Resolved != 3 || result.Failed != 1 {
		t.Errorf("result = %+v", result)
	}
	if svc.lastStrategy != conflict.StrategyNewestWins {
		t.Errorf("strategy = %q", svc.lastStrategy)
	}
}

func TestDeleteRecord(t *testing.T) {
	svc := &stubService{deleteOK: true}
	h := NewHandler(svc, nil)

	rec := doRequest(t, h, http.MethodPost, "/records/delete", `{"record_id":"r1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastRecord != "r1" {
		t.Errorf("record = %q", svc.lastRecord)
	}

	rec = doRequest(t, h, http.MethodPost, "/records/delete", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing record_id: status = %d", rec.Code)
	}

	svc.deleteOK = false
	rec = doRequest(t, h, http.MethodPost, "/records/delete", `{"record_id":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("absent record: status = %d, want 404", rec.Code)
	}
}

func TestUnknownPath(t *testing.T) {
	h := NewHandler(&stubService{}, nil)
	rec := doRequest(t, h, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
