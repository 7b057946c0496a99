package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speaknode/speaknode/pkg/config"
	"github.com/speaknode/speaknode/pkg/extract"
	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/session"
	"github.com/speaknode/speaknode/pkg/snapshot"
)

const testDim = 8

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.EmbeddingDim = testDim

	sessions, err := session.NewManager(cfg.DataDir, session.Options{
		StoreOptions: cfg.StoreOptions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	srv := New(cfg, sessions, Options{
		Embedder:   extract.HashEmbedder{Dim: testDim},
		Translator: extract.TemplateTranslator{},
	})
	return srv.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createChat(t *testing.T, router *gin.Engine) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/chats", gin.H{"title": "test chat"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func ingestSample(t *testing.T, router *gin.Engine, chatID string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/ingest", gin.H{
		"meeting": schema.Meeting{Title: "Weekly sync", Date: "2026-08-31"},
		"analysis": schema.AnalysisResult{
			Topics:    []schema.Topic{{Title: "Budget", Summary: "quarterly numbers"}},
			Decisions: []schema.Decision{{Description: "Approved", RelatedTopic: "Budget"}},
			Tasks: []schema.Task{
				{Description: "Draft report", Assignee: "Alice", Status: schema.StatusPending},
			},
			People: []schema.Person{{Name: "Alice", Role: "Lead"}},
			Utterances: []schema.Utterance{
				{Text: "budget looks healthy", Speaker: "Alice", Start: 0, End: 2},
				{Text: "then we approve it", Speaker: "Alice", Start: 2, End: 4},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		MeetingID string `json:"meeting_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.MeetingID
}

func TestHealth(t *testing.T) {
	router := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatLifecycle(t *testing.T) {
	router := newTestServer(t)
	id := createChat(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = doJSON(t, router, http.MethodDelete, "/api/chats/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/chats/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestAndMeetings(t *testing.T) {
	router := newTestServer(t)
	chatID := createChat(t, router)
	meetingID := ingestSample(t, router, chatID)

	rec := doJSON(t, router, http.MethodGet, "/api/chats/"+chatID+"/meetings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Weekly sync")

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/chats/%s/meetings/%s", chatID, meetingID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary graph.MeetingSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.Topics, 1)
	assert.Len(t, summary.Tasks, 1)

	rec = doJSON(t, router, http.MethodGet,
		"/api/chats/"+chatID+"/meetings/m_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/chats/nope/meetings", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryEndpoint(t *testing.T) {
	router := newTestServer(t)
	chatID := createChat(t, router)
	ingestSample(t, router, chatID)

	rec := doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/query",
		gin.H{"question": "what tasks are open?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Draft report")

	rec = doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/query", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateNodeEndpoint(t *testing.T) {
	router := newTestServer(t)
	chatID := createChat(t, router)
	ingestSample(t, router, chatID)

	rec := doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/nodes/update", gin.H{
		"kind":   "Task",
		"target": "Draft report",
		"fields": gin.H{"status": schema.StatusDone},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"matched":1`)

	rec = doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/nodes/update", gin.H{
		"kind":   "Task",
		"target": "Draft report",
		"fields": gin.H{"status": "nonsense"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/nodes/update", gin.H{
		"kind":   "Task",
		"target": "does not exist",
		"fields": gin.H{"status": schema.StatusDone},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matched":0`)
}

func TestExportImportEndpoints(t *testing.T) {
	router := newTestServer(t)
	source := createChat(t, router)
	ingestSample(t, router, source)

	rec := doJSON(t, router, http.MethodGet, "/api/chats/"+source+"/export?embeddings=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dump graph.Dump
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dump))
	require.Len(t, dump.Nodes.Utterances, 2)
	assert.NotEmpty(t, dump.Nodes.Utterances[0].Embedding)

	target := createChat(t, router)
	rec = doJSON(t, router, http.MethodPost, "/api/chats/"+target+"/import", dump)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/chats/"+target+"/export?embeddings=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roundTrip graph.Dump
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roundTrip))
	assert.Equal(t, dump, roundTrip)
}

func TestImportRejectsBadDump(t *testing.T) {
	router := newTestServer(t)
	chatID := createChat(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/chats/"+chatID+"/import",
		gin.H{"version": 99})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chats/"+chatID+"/import",
		bytes.NewBufferString("{not json"))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSnapshotEndpoints(t *testing.T) {
	router := newTestServer(t)
	source := createChat(t, router)
	ingestSample(t, router, source)

	rec := doJSON(t, router, http.MethodGet, "/api/chats/"+source+"/snapshot?embeddings=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	image := rec.Body.Bytes()

	bundle, ok, err := snapshot.Decode(image)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, bundle.GraphDump.Nodes.Utterances, 2)

	// Decode endpoint
	req := httptest.NewRequest(http.MethodPost, "/api/snapshot/decode", bytes.NewReader(image))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"found":true`)

	// Import into a fresh chat
	target := createChat(t, router)
	req = httptest.NewRequest(http.MethodPost, "/api/chats/"+target+"/snapshot", bytes.NewReader(image))
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/chats/"+target+"/meetings", nil)
	assert.Contains(t, rec.Body.String(), "Weekly sync")
}

func TestSnapshotDecodeNoData(t *testing.T) {
	router := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/snapshot/decode",
		bytes.NewBufferString("not an image"))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
