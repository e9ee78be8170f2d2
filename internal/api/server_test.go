package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"polyindex/internal/decode"
	"polyindex/internal/replay"
	"polyindex/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := replay.NewEngine(s, nil)
	return New(s, e, nil, nil), s
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleTables(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Contains(t, body["tables"], "condition")
}

func TestHandleQuery_RejectsNonSelect(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/query?q=DELETE+FROM+split", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleQuery_RejectsStatementSeparator(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/query?q=SELECT+1%3B+DROP+TABLE+split", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleQuery_AllowsPlainSelect(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/query?q=SELECT+1+as+n", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleRebuild_ConflictsWhileRunning(t *testing.T) {
	srv, _ := newTestServer(t)

	rr1 := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr1, httptest.NewRequest(http.MethodPost, "/api/rebuild", nil))
	require.Equal(t, http.StatusAccepted, rr1.Code)

	rr2 := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr2, httptest.NewRequest(http.MethodPost, "/api/rebuild", nil))
	require.Equal(t, http.StatusConflict, rr2.Code)
}

func TestHandleRebuild_RequiresPost(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rebuild", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleUser_NotFoundBeforeRebuild(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/user/0xabc/pnl", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleUser_PnlAfterRebuild(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "api2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	condID := common.HexToHash("0xc1")
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")

	require.NoError(t, s.AtomicMultiInsert(ctx, &decode.ParsedEvents{
		ConditionPreparation: []decode.ConditionPreparationRow{
			{BlockNumber: 1, LogIndex: 0, ConditionID: condID, Oracle: common.HexToAddress("0xaa"), QuestionID: common.HexToHash("0xbb"), OutcomeCount: 2},
		},
		Split: []decode.SplitRow{
			{BlockNumber: 10, LogIndex: 0, Stakeholder: user, ConditionID: condID, Amount: 100},
		},
	}, 10))

	e := replay.NewEngine(s, nil)
	require.NoError(t, e.TriggerRebuild(ctx))
	require.Eventually(t, func() bool { return !e.Progress().Running }, 2*time.Second, time.Millisecond)

	srv := New(s, e, nil, nil)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/user/"+user.Hex()+"/pnl", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleReplayUsers_EmptyBeforeRebuild(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/replay-users", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleStatic_NotFoundWhenAbsent(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	srv.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
