package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-relay/internal/models"
	"collab-relay/internal/store"
)

type fakeSnapshots struct {
	raw map[string][]byte
}

func (f *fakeSnapshots) RawSnapshot(ctx context.Context, docID string) ([]byte, error) {
	raw, ok := f.raw[docID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return raw, nil
}

type fakeHistory struct {
	lastLimit int
	records   []*models.EditRecord
}

func (f *fakeHistory) RecentByDoc(ctx context.Context, docID string, limit int) ([]*models.EditRecord, error) {
	f.lastLimit = limit
	return f.records, nil
}

func noWS(w http.ResponseWriter, r *http.Request) {}

func TestGetSnapshotReturnsRawJSON(t *testing.T) {
	snaps := &fakeSnapshots{raw: map[string][]byte{
		"d1": []byte(`{"text":"hi","version":1}`),
	}}
	router := SetupRoutes(NewHandler(snaps, nil, noWS))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/d1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"text":"hi","version":1}`, rec.Body.String())
}

func TestGetSnapshotNotFound(t *testing.T) {
	router := SetupRoutes(NewHandler(&fakeSnapshots{raw: map[string][]byte{}}, nil, noWS))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	history := &fakeHistory{records: []*models.EditRecord{
		{ID: "k2", DocID: "d1", Version: 2, Text: "two", Origin: "R1"},
		{ID: "k1", DocID: "d1", Version: 1, Text: "one", Origin: "R2"},
	}}
	router := SetupRoutes(NewHandler(&fakeSnapshots{}, history, noWS))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/d1/history?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, history.lastLimit)

	var body struct {
		DocID   string               `json:"doc_id"`
		Count   int                  `json:"count"`
		Records []*models.EditRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "d1", body.DocID)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, int64(2), body.Records[0].Version)
}

func TestHistoryLimitClamped(t *testing.T) {
	history := &fakeHistory{}
	router := SetupRoutes(NewHandler(&fakeSnapshots{}, history, noWS))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/d1/history?limit=9999", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, historyMaxLimit, history.lastLimit)
}

func TestHistoryRouteAbsentWhenDisabled(t *testing.T) {
	router := SetupRoutes(NewHandler(&fakeSnapshots{raw: map[string][]byte{}}, nil, noWS))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/d1/history", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	router := SetupRoutes(NewHandler(&fakeSnapshots{}, nil, noWS))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
