package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/api/handlers"
	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/remote"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/internal/strategy"
	"github.com/wonny/orbit/internal/trailing"
	"github.com/wonny/orbit/pkg/config"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/redis"
)

type fixedIndicators map[contracts.IndicatorKind]float64

func (f fixedIndicators) LatestValue(kind contracts.IndicatorKind, _ int) (float64, bool) {
	v, ok := f[kind]
	return v, ok
}

type noRange struct{}

func (noRange) Range() contracts.SessionRange { return contracts.SessionRange{} }

type testServer struct {
	t      *testing.T
	router http.Handler
	actor  *engine.Actor
	engine *engine.Engine
}

type serverOpts struct {
	role  engine.Role
	rate  float64
	burst int
	cache *redis.Cache
}

// newTestServer runs an MES engine (ATR 4, last price 100) behind the router
func newTestServer(t *testing.T, opts serverOpts) *testServer {
	t.Helper()
	if opts.role == "" {
		opts.role = engine.RolePrimary
	}
	if opts.rate == 0 {
		opts.rate, opts.burst = 1000, 1000
	}

	paper := execution.NewPaperGateway(0.25)
	ind := fixedIndicators{contracts.IndicatorATR: 4}

	var planner *strategy.Planner
	if opts.role == engine.RolePrimary {
		sizer := risk.NewSizer(risk.SizingConfig{
			Risk:          200,
			ReducedRisk:   200,
			StopThreshold: 5,
			PointValue:    5,
			MinContracts:  1,
			MaxContracts:  30,
		}, risk.DefaultSplit())
		planner = strategy.NewPlanner(strategy.DefaultConfig(), contracts.DefaultTrailLadder(), sizer, ind, noRange{}, 0.25, paper.RoundToTick, logger.Nop())
	}

	e := engine.New(engine.Config{
		Role:       opts.role,
		Instrument: "MES",
		Bracket:    execution.DefaultBracketConfig(),
		Trailing:   trailing.DefaultConfig(0.25),
	}, engine.Deps{
		Gateway:    paper,
		Indicators: ind,
		Ranges:     noRange{},
		Planner:    planner,
		Bus:        signalbus.New(logger.Nop()),
	}, logger.Nop())

	actor := engine.NewActor(64, e.Pump, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = actor.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, actor.Do(ctx, func(ctx context.Context) error {
		e.OnPriceUpdate(ctx, 100)
		return nil
	}))

	dispatcher := remote.NewDispatcher(e, opts.rate, opts.burst, logger.Nop())
	router := NewRouter(Routes{
		Engine:  handlers.NewEngineHandler(actor, e, opts.cache, nil, "hash-1", logger.Nop()),
		Remote:  handlers.NewRemoteHandler(actor, dispatcher, logger.Nop()),
		Metrics: true,
	}, logger.Nop())

	return &testServer{t: t, router: router, actor: actor, engine: e}
}

func (s *testServer) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(method, path, body string) *httptest.ResponseRecorder {
	return s.do(method, path, "application/json", body)
}

// positions reads the ledger through the API; the Do also drains the previous task's pump
func (s *testServer) positions() []contracts.Position {
	s.t.Helper()
	rec := s.json("GET", "/api/positions", "")
	require.Equal(s.t, http.StatusOK, rec.Code)

	var out []contracts.Position
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := s.json("GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = s.json("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orbit_")
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := s.json("GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "primary", body["role"])
	assert.Equal(t, "MES", body["instrument"])
	assert.Equal(t, "hash-1", body["config_hash"])
	assert.Equal(t, 100.0, body["last_price"])
	assert.Equal(t, 0.0, body["positions"])
}

func TestEntryLifecycle(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := s.json("POST", "/api/entries", `{"mode":"pullback","direction":"long","price":99}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created contracts.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, contracts.ModePullback, created.Mode)
	assert.Equal(t, contracts.OrderTypeLimit, created.EntryType)

	rec = s.json("PATCH", "/api/entries/"+created.ID, `{"price":98.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pos := s.positions()
	require.Len(t, pos, 1)
	assert.Equal(t, 98.5, pos[0].EntryPrice)
	assert.False(t, pos[0].EntryFilled)

	rec = s.json("DELETE", "/api/entries/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, s.positions())
}

func TestEntryErrors(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"breakout without range", "POST", "/api/entries", `{"mode":"BREAKOUT","direction":"LONG"}`, http.StatusConflict},
		{"unknown mode", "POST", "/api/entries", `{"mode":"SCALP","direction":"LONG","price":99}`, http.StatusBadRequest},
		{"bad direction", "POST", "/api/entries", `{"mode":"PULLBACK","direction":"UP","price":99}`, http.StatusBadRequest},
		{"bad body", "POST", "/api/entries", `{`, http.StatusBadRequest},
		{"reprice unknown", "PATCH", "/api/entries/nope", `{"price":99}`, http.StatusNotFound},
		{"reprice zero", "PATCH", "/api/entries/nope", `{"price":0}`, http.StatusBadRequest},
		{"cancel unknown", "DELETE", "/api/entries/nope", "", http.StatusNotFound},
		{"target on unknown", "POST", "/api/positions/nope/targets/t1", `{"action":"market"}`, http.StatusNotFound},
		{"target without action", "POST", "/api/positions/nope/targets/t1", `{}`, http.StatusBadRequest},
		{"breakeven unknown", "POST", "/api/breakeven", `{"position_id":"nope"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.json(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorOf(t, rec))
		})
	}
}

func TestRemoteThenManage(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := s.do("POST", "/api/remote", "text/plain", "LONG|MES|2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res remote.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, remote.ActionLong, res.Action)
	assert.Equal(t, "MES", res.Symbol)

	pos := s.positions()
	require.Len(t, pos, 1)
	require.True(t, pos[0].EntryFilled)
	assert.Equal(t, 20, pos[0].RemainingContracts)
	id := pos[0].ID

	rec = s.json("POST", "/api/positions/"+id+"/targets/t1", `{"action":"MARKET"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pos = s.positions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Targets[0].Filled)
	assert.Equal(t, 16, pos[0].RemainingContracts)

	rec = s.json("POST", "/api/positions/"+id+"/targets/runner", `{"action":"cancel"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json("POST", "/api/breakeven", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"armed":true,"positions":1}`, rec.Body.String())
	assert.True(t, s.positions()[0].ManualBreakeven.Armed)

	rec = s.json("POST", "/api/breakeven", `{"armed":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.positions()[0].ManualBreakeven.Armed)

	rec = s.json("POST", "/api/flatten", `{"reason":"test"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"flattened":1,"reason":"test"}`, rec.Body.String())
	assert.Empty(t, s.positions())
}

func TestRemoteErrors(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"unknown action", "text/plain", "BUY|MES", http.StatusBadRequest},
		{"malformed", "text/plain", "LONG", http.StatusBadRequest},
		{"modify", "text/plain", "MODIFY|MES", http.StatusNotImplemented},
		{"other instrument", "text/plain", "LONG|MGC", http.StatusBadRequest},
		{"bad json", "application/json", `{"command":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do("POST", "/api/remote", tt.contentType, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do("POST", "/api/remote", "application/json", `{"command":"CLOSE|MES"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"action":"CLOSE"`)
}

func TestRemoteRateLimited(t *testing.T) {
	s := newTestServer(t, serverOpts{rate: 0.001, burst: 1})

	rec := s.do("POST", "/api/remote", "text/plain", "CLOSE|MES")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("POST", "/api/remote", "text/plain", "CLOSE|MES")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestFollowerRejectsEntries(t *testing.T) {
	s := newTestServer(t, serverOpts{role: engine.RoleFollower})

	rec := s.json("POST", "/api/entries", `{"mode":"PULLBACK","direction":"LONG","price":99}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("POST", "/api/remote", "text/plain", "SHORT|MES")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCachedPositions(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := s.json("GET", "/api/positions?source=cache", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	client, err := redis.New(&config.Config{})
	require.NoError(t, err)
	s = newTestServer(t, serverOpts{cache: redis.NewCache(client, redis.InstancePrefix("orbit-1"))})
	rec = s.json("GET", "/api/positions?source=cache", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "disabled cache has no snapshot")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}
