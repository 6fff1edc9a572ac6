package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/reputation"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/security"
	"github.com/opensource-finance/kestrel/internal/stream"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// createTestServer wires a full pipeline on a temporary SQLite file.
func createTestServer(t *testing.T, adminToken string) *Server {
	t.Helper()
	server, _ := newTestServer(t, adminToken)
	return server
}

func newTestServer(t *testing.T, adminToken string) (*Server, *stream.Hub) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	}, nil)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(64)
	t.Cleanup(func() { b.Close() })

	hub := stream.NewHub()
	relay := stream.NewRelay(b, hub)
	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}
	t.Cleanup(func() {
		relay.Stop()
		hub.Close()
	})

	tokenizer := security.NewTokenizer("test-salt")
	scorer := scoring.New(scoring.Deps{
		Repo:       repo,
		Tokenizer:  tokenizer,
		Velocity:   velocity.NewService(repo),
		Analytics:  analytics.NewService(repo, analytics.DefaultForestOptions()),
		Rules:      engine,
		Profiles:   profile.NewStore(repo, c, time.Minute),
		Publisher:  stream.NewBusPublisher(b),
		AdminToken: adminToken,
	})

	cfg := domain.ServerConfig{
		Host:        "localhost",
		Port:        8080,
		ReadTimeout: 30,
	}

	server := NewServer(cfg, Deps{
		Scorer:     scorer,
		Reputation: reputation.NewService(repo, c, tokenizer, time.Minute),
		Stream:     stream.NewHandler(hub, time.Second, 16),
		Repo:       repo,
		Cache:      c,
		Bus:        b,
		Version:    "test-v1",
	})
	return server, hub
}

func do(server *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		json.NewEncoder(&buf).Encode(v)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func score(t *testing.T, server *Server, req scoring.Request) *domain.Transaction {
	t.Helper()

	rr := do(server, http.MethodPost, "/score", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var res scoring.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return res.Transaction
}

func errorOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response %q: %v", rr.Body.String(), err)
	}
	return resp["error"]
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t, "")

	t.Run("SuccessfulScore", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/score", scoring.Request{
			Identifier: "day@upi",
			Amount:     500,
			Hour:       10,
			Merchant:   "Chai Point",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}

		var res scoring.Result
		if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		tx := res.Transaction
		if tx == nil || tx.ID <= 0 {
			t.Fatalf("expected a persisted transaction, got %+v", tx)
		}
		if tx.Status != domain.StatusLegitimate || tx.Blocked {
			t.Errorf("expected unblocked Legitimate, got %s blocked=%v", tx.Status, tx.Blocked)
		}
		if tx.IdentifierToken == "" || tx.IdentifierToken == tx.Identifier {
			t.Errorf("expected tokenized identifier, got %q", tx.IdentifierToken)
		}
		if len(res.Components) == 0 {
			t.Error("expected component statuses")
		}
	})

	t.Run("FraudIsAutoBlocked", func(t *testing.T) {
		tx := score(t, server, scoring.Request{Identifier: "night@upi", Amount: 60000, Hour: 2})
		if tx.Status != domain.StatusFraud || !tx.Blocked || tx.BlockedBy != domain.SystemActor {
			t.Errorf("expected auto-blocked Fraud, got %s blocked=%v by %q", tx.Status, tx.Blocked, tx.BlockedBy)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/score", "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingIdentifier", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/score", scoring.Request{Amount: 10, Hour: 10})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("HourOutOfRange", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/score", scoring.Request{Identifier: "a@upi", Amount: 10, Hour: 24})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server := createTestServer(t, "")

	legit := score(t, server, scoring.Request{Identifier: "day@upi", Amount: 500, Hour: 10, Merchant: "Chai Point"})
	fraud := score(t, server, scoring.Request{Identifier: "night@upi", Amount: 60000, Hour: 2})

	t.Run("Get", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/transactions/"+itoa(legit.ID), nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var tx domain.Transaction
		json.Unmarshal(rr.Body.Bytes(), &tx)
		if tx.ID != legit.ID || tx.Identifier != "day@upi" {
			t.Errorf("unexpected transaction %+v", tx)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/transactions/9999", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("BadID", func(t *testing.T) {
		for _, id := range []string{"abc", "0", "-3"} {
			rr := do(server, http.MethodGet, "/transactions/"+id, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", id, rr.Code)
			}
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/transactions?limit=10", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Transactions []domain.Transaction `json:"transactions"`
			Count        int                  `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 || resp.Transactions[0].ID != fraud.ID {
			t.Errorf("expected 2 transactions newest first, got %+v", resp)
		}
	})

	t.Run("ListBadLimit", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/transactions?limit=x", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ExplanationMissing", func(t *testing.T) {
		// No primary model is loaded, so nothing was explained.
		rr := do(server, http.MethodGet, "/transactions/"+itoa(legit.ID)+"/explanation", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("OperatorBlock", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/transactions/"+itoa(legit.ID)+"/block", BlockRequest{BlockedBy: "alice"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var tx domain.Transaction
		json.Unmarshal(rr.Body.Bytes(), &tx)
		if !tx.Blocked || tx.BlockedBy != "alice" || tx.BlockedAt == nil {
			t.Errorf("expected block by alice, got %+v", tx)
		}

		rr = do(server, http.MethodPost, "/transactions/"+itoa(legit.ID)+"/block", nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409 on second block, got %d", rr.Code)
		}
	})

	t.Run("AutoBlockedCannotBeReblocked", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/transactions/"+itoa(fraud.ID)+"/block", nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("SystemActorRejected", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/transactions/9999/block", BlockRequest{BlockedBy: domain.SystemActor})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("BlockUnknown", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/transactions/9999/block", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	server := createTestServer(t, "s3cret")
	score(t, server, scoring.Request{Identifier: "day@upi", Amount: 500, Hour: 10})

	t.Run("ClearWithoutToken", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/admin/clear", nil)
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("ClearWrongToken", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/admin/clear", AdminRequest{Token: "nope"})
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("RefreshWithoutToken", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/admin/analytics/refresh", nil)
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/admin/analytics/refresh", nil, AdminTokenHeader, "s3cret")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var stats analytics.Stats
		json.Unmarshal(rr.Body.Bytes(), &stats)
		if stats.Rows != 1 || stats.Trained {
			t.Errorf("expected one untrained row, got %+v", stats)
		}
	})

	t.Run("ClearWithHeader", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/admin/clear", nil, AdminTokenHeader, "s3cret")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Message string              `json:"message"`
			Cleared scoring.ClearResult `json:"cleared"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Message != scoring.ClearMessage || resp.Cleared.Transactions != 1 || !resp.Cleared.Protected {
			t.Errorf("unexpected clear response %+v", resp)
		}

		rr = do(server, http.MethodGet, "/transactions", nil)
		if !strings.Contains(rr.Body.String(), `"count":0`) {
			t.Errorf("expected empty history, got %s", rr.Body.String())
		}
	})

	t.Run("ClearWithBodyToken", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/admin/clear", AdminRequest{Token: "s3cret"})
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestClearUnprotected(t *testing.T) {
	server := createTestServer(t, "")

	rr := do(server, http.MethodPost, "/admin/clear", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"protected":false`) {
		t.Errorf("expected unprotected clear, got %s", rr.Body.String())
	}
}

func TestIdentityEndpoints(t *testing.T) {
	server := createTestServer(t, "")

	t.Run("DerivedReputation", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/reputation/abc", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var rep domain.VPAReputation
		json.Unmarshal(rr.Body.Bytes(), &rep)
		if rep.Token != "abc" || rep.Source != domain.ReputationDerived || rep.RiskScore == nil {
			t.Errorf("expected derived reputation, got %+v", rep)
		}

		var again domain.VPAReputation
		json.Unmarshal(do(server, http.MethodGet, "/reputation/abc", nil).Body.Bytes(), &again)
		if again.ReputationScore != rep.ReputationScore || again.FlagCount != rep.FlagCount {
			t.Errorf("expected deterministic reputation, got %+v then %+v", rep, again)
		}
	})

	t.Run("OversizedToken", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/reputation/"+strings.Repeat("a", 200), nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Heartbeat", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/heartbeat", HeartbeatRequest{Identifier: "idle@upi"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(server, http.MethodGet, "/users/idle@upi", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var p domain.UserProfile
		json.Unmarshal(rr.Body.Bytes(), &p)
		if p.LastSeen == nil || len(p.Transactions) != 0 {
			t.Errorf("expected last_seen with no history, got %+v", p)
		}
	})

	t.Run("HeartbeatWithoutIdentifier", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/heartbeat", HeartbeatRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ProfileHistory", func(t *testing.T) {
		score(t, server, scoring.Request{Identifier: "hist@upi", Amount: 120, Hour: 10, Merchant: "Chai Point"})

		rr := do(server, http.MethodGet, "/users/hist@upi", nil)
		var p domain.UserProfile
		json.Unmarshal(rr.Body.Bytes(), &p)
		if len(p.Transactions) != 1 || p.Transactions[0].Merchant != "Chai Point" {
			t.Errorf("expected one profile entry, got %+v", p)
		}
	})
}

func TestStreamEndpoint(t *testing.T) {
	server, hub := newTestServer(t, "")
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("expected NDJSON content type, got %q", ct)
	}

	// The subscription is registered after the headers are flushed.
	for hub.Count() == 0 {
		if ctx.Err() != nil {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	score(t, server, scoring.Request{Identifier: "live@upi", Amount: 75, Hour: 10})

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if sc.Text() != "" {
				lines <- sc.Text()
				return
			}
		}
		close(lines)
	}()

	select {
	case line, ok := <-lines:
		if !ok {
			t.Fatal("stream ended without an event")
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("failed to parse event %q: %v", line, err)
		}
		if ev.Type != domain.EventTransaction || ev.Transaction == nil || ev.Transaction.Identifier != "live@upi" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t, "")

	t.Run("HealthCheck", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Status     string            `json:"status"`
			Version    string            `json:"version"`
			Components map[string]string `json:"components"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if resp.Components["repository"] != "ok" || resp.Components["cache"] != "ok" || resp.Components["bus"] != "ok" {
			t.Errorf("expected all components ok, got %v", resp.Components)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		do(server, http.MethodGet, "/ready", nil)
		rr := do(server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "kestrel_http_requests_total") {
			t.Error("expected kestrel request metrics")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID, capturedTraceID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = logging.RequestID(r.Context())
			capturedTraceID = GetTraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" || capturedTraceID == "" {
			t.Error("expected request and trace IDs to be set")
		}
		if rr.Header().Get(RequestIDHeader) != capturedRequestID {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("TracingMiddlewareKeepsClientRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected request ID 'req-42', got '%s'", got)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight reached the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/admin/clear", nil)
		req.Header.Set("Origin", "http://dashboard.local")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), AdminTokenHeader) {
			t.Error("expected admin token header to be allowed")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("ResponseWriterFlushes", func(t *testing.T) {
		rr := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}
		if err := http.NewResponseController(rw).Flush(); err != nil {
			t.Errorf("expected flush support, got %v", err)
		}
		if !rr.Flushed {
			t.Error("expected underlying recorder to be flushed")
		}
	})
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{scoring.ErrInvalidRequest, http.StatusBadRequest},
		{reputation.ErrInvalidToken, http.StatusBadRequest},
		{scoring.ErrUnauthorized, http.StatusForbidden},
		{repository.ErrNotFound, http.StatusNotFound},
		{scoring.ErrNoExplanation, http.StatusNotFound},
		{repository.ErrAlreadyBlocked, http.StatusConflict},
		{scoring.ErrUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.status == http.StatusInternalServerError && errorOf(t, rr) != "internal server error" {
				t.Error("expected internal errors to be masked")
			}
		})
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
