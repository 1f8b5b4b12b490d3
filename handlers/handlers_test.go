package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-match-engine/database"
	"report-match-engine/models"
)

type fakeEngine struct {
	processErr error
	created    int
	updated    int

	listMatches []*models.MatchCandidate
	listErr     error

	bulkIDs    []string
	bulkAction string
	bulkActor  string
	bulkResp   *models.BulkResponse
	bulkErr    error
}

func (f *fakeEngine) ProcessReport(_ context.Context, reportID string) (int, int, error) {
	if f.processErr != nil {
		return 0, 0, f.processErr
	}
	return f.created, f.updated, nil
}

func (f *fakeEngine) ListMatches(_ context.Context, reportID string) ([]*models.MatchCandidate, error) {
	return f.listMatches, f.listErr
}

func (f *fakeEngine) BulkTransition(_ context.Context, ids []string, action, actor string) (*models.BulkResponse, error) {
	f.bulkIDs = ids
	f.bulkAction = action
	f.bulkActor = actor
	return f.bulkResp, f.bulkErr
}

func newRouter(engine *fakeEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(engine).Register(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router := newRouter(&fakeEngine{})
	w := doJSON(t, router, http.MethodGet, "/api/v3/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		engine     *fakeEngine
		wantStatus int
	}{
		{
			name:       "ok",
			body:       `{"report_id": "r1"}`,
			engine:     &fakeEngine{created: 3, updated: 1},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing report_id",
			body:       `{}`,
			engine:     &fakeEngine{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"report_id":`,
			engine:     &fakeEngine{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown report",
			body:       `{"report_id": "missing"}`,
			engine:     &fakeEngine{processErr: database.ErrNotFound},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(tt.engine)
			w := doJSON(t, router, http.MethodPost, "/internal/matching/generate", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp models.GenerateResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "r1", resp.ReportID)
			assert.Equal(t, 3, resp.Created)
			assert.Equal(t, 1, resp.Updated)
		})
	}
}

func TestGetMatches(t *testing.T) {
	engine := &fakeEngine{
		listMatches: []*models.MatchCandidate{
			{ID: "m1", SourceReportID: "r1", CandidateReportID: "r2", Status: models.MatchStatusCandidate},
		},
	}
	router := newRouter(engine)

	w := doJSON(t, router, http.MethodGet, "/internal/matching/matches/r1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ReportID string                   `json:"report_id"`
		Matches  []*models.MatchCandidate `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.ReportID)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "m1", resp.Matches[0].ID)
}

func TestGetMatchesEmptyIsArray(t *testing.T) {
	router := newRouter(&fakeEngine{})
	w := doJSON(t, router, http.MethodGet, "/internal/matching/matches/r1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matches":[]`)
}

func TestBulkValidation(t *testing.T) {
	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "id"
	}
	tooMany, err := json.Marshal(models.BulkRequest{IDs: ids})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"empty ids", `{"ids": []}`},
		{"missing ids", `{}`},
		{"over limit", string(tooMany)},
		{"malformed", `{"ids":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			router := newRouter(engine)
			w := doJSON(t, router, http.MethodPost, "/admin/matches/bulk/approve", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Nil(t, engine.bulkIDs, "invalid batch must not reach the engine")
		})
	}
}

func TestBulkPassthrough(t *testing.T) {
	engine := &fakeEngine{
		bulkResp: &models.BulkResponse{
			Success: 2,
			Failed:  1,
			Errors:  []models.BulkError{{ID: "bad-id", Error: "not found"}},
		},
	}
	router := newRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/admin/matches/bulk/reject",
		bytes.NewReader([]byte(`{"ids": ["m1", "m2", "bad-id"]}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-User", "reviewer-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "reject", engine.bulkAction)
	assert.Equal(t, "reviewer-7", engine.bulkActor)
	assert.Len(t, engine.bulkIDs, 3)

	var resp models.BulkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Success)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "bad-id", resp.Errors[0].ID)
}

func TestBulkDefaultActor(t *testing.T) {
	engine := &fakeEngine{bulkResp: &models.BulkResponse{Success: 1}}
	router := newRouter(engine)

	w := doJSON(t, router, http.MethodPost, "/admin/matches/bulk/notify", `{"ids": ["m1"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", engine.bulkActor)
	assert.Equal(t, "notify", engine.bulkAction)
}
