package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/sqlexec"
)

type fakeExporter struct {
	info          export.ObjectInfo
	exportErr     error
	openErr       error
	content       string
	lastSessionID int64
	lastMessageID int64
	lastResult    sqlexec.Result
	lastKey       string
}

func (f *fakeExporter) Export(_ context.Context, sessionID, messageID int64, result sqlexec.Result) (export.ObjectInfo, error) {
	f.lastSessionID = sessionID
	f.lastMessageID = messageID
	f.lastResult = result
	if f.exportErr != nil {
		return export.ObjectInfo{}, f.exportErr
	}
	return f.info, nil
}

func (f *fakeExporter) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.lastKey = key
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func TestCreateSessionDefaultsName(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	rr := postJSON(t, h, "/v1/sessions", `{}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		SessionID    int64  `json:"session_id"`
		Name         string `json:"name"`
		ConnectionID *int64 `json:"connection_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.SessionID != 1 || body.Name != "New Chat" || body.ConnectionID != nil {
		t.Fatalf("body = %+v", body)
	}
}

func TestCreateSessionWithConnection(t *testing.T) {
	repo, conn := semanticFixture(t)
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	rr := postJSON(t, h, "/v1/sessions", `{"name":"Quarterly revenue","connection_id":1}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Name         string `json:"name"`
		ConnectionID *int64 `json:"connection_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Name != "Quarterly revenue" {
		t.Fatalf("name = %q", body.Name)
	}
	if body.ConnectionID == nil || *body.ConnectionID != conn.ConnectionID {
		t.Fatalf("connection_id = %v", body.ConnectionID)
	}
}

func TestCreateSessionUnknownConnection(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	rr := postJSON(t, h, "/v1/sessions", `{"connection_id":9}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "CONNECTION_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	for _, name := range []string{"first", "second", "third"} {
		rr := postJSON(t, h, "/v1/sessions", `{"name":"`+name+`"}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("seed %s: status = %d", name, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Sessions []struct {
			SessionID int64  `json:"session_id"`
			Name      string `json:"name"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Sessions) != 3 || body.Sessions[0].Name != "third" || body.Sessions[2].Name != "first" {
		t.Fatalf("sessions = %+v", body.Sessions)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=1&offset=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("paged status = %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Name != "second" {
		t.Fatalf("paged sessions = %+v", body.Sessions)
	}
}

func TestListSessionsRejectsBadPaging(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	cases := []struct {
		name  string
		query string
		code  string
	}{
		{"non numeric limit", "limit=ten", "INVALID_LIMIT"},
		{"zero limit", "limit=0", "INVALID_LIMIT"},
		{"negative offset", "offset=-1", "INVALID_OFFSET"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions?"+tc.query, nil))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if errorCode(t, rr) != tc.code {
				t.Fatalf("error_code = %s, want %s", errorCode(t, rr), tc.code)
			}
		})
	}
}

func TestGetSessionNotFound(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/5", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Message != "Session not found" {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestDeleteSession(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	if rr := postJSON(t, h, "/v1/sessions", `{}`); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
	if errorCode(t, rr) != "SESSION_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func TestListMessagesReturnsHistory(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	session, err := repo.CreateSession(context.Background(), metastore.CreateSessionInput{Name: "New Chat"})
	if err != nil {
		t.Fatalf("seed session failed: %v", err)
	}
	if _, err := repo.CreateMessage(context.Background(), metastore.CreateMessageInput{
		SessionID: session.SessionID,
		Role:      metastore.RoleUser,
		Content:   "How many users signed up last week?",
	}); err != nil {
		t.Fatalf("seed user message failed: %v", err)
	}
	if _, err := repo.CreateMessage(context.Background(), metastore.CreateMessageInput{
		SessionID:    session.SessionID,
		Role:         metastore.RoleAssistant,
		Content:      "There were 42 signups last week.",
		MetadataJSON: []byte(`{"sql":"SELECT count(*) FROM users"}`),
	}); err != nil {
		t.Fatalf("seed assistant message failed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/1/messages", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		SessionID int64 `json:"session_id"`
		Messages  []struct {
			Role     string          `json:"role"`
			Content  string          `json:"content"`
			Metadata json.RawMessage `json:"metadata"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.SessionID != 1 || len(body.Messages) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Messages[0].Role != metastore.RoleUser || string(body.Messages[0].Metadata) != "null" {
		t.Fatalf("first message = %+v", body.Messages[0])
	}
	if body.Messages[1].Role != metastore.RoleAssistant || !strings.Contains(string(body.Messages[1].Metadata), "SELECT count(*)") {
		t.Fatalf("second message = %+v", body.Messages[1])
	}
}

func TestListMessagesUnknownSession(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/3/messages", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "SESSION_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func exportFixture(t *testing.T, metadata string) *memRepo {
	t.Helper()
	repo := newMemRepo()
	session, err := repo.CreateSession(context.Background(), metastore.CreateSessionInput{Name: "New Chat"})
	if err != nil {
		t.Fatalf("seed session failed: %v", err)
	}
	var raw []byte
	if metadata != "" {
		raw = []byte(metadata)
	}
	if _, err := repo.CreateMessage(context.Background(), metastore.CreateMessageInput{
		SessionID:    session.SessionID,
		Role:         metastore.RoleAssistant,
		Content:      "42 rows matched.",
		MetadataJSON: raw,
	}); err != nil {
		t.Fatalf("seed message failed: %v", err)
	}
	return repo
}

func TestExportResultStoresObject(t *testing.T) {
	repo := exportFixture(t, `{"sql":"SELECT 1","execution":{"success":true,"columns":["total"],"rows":[{"total":42}],"row_count":1}}`)
	exporter := &fakeExporter{info: export.ObjectInfo{
		Key:          "sessions/1/messages/1/result.parquet",
		Size:         2048,
		ETag:         "abc123",
		LastModified: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}
	h := NewHandler(testConfig(t), Dependencies{Repo: repo, Exporter: exporter})

	rr := postJSON(t, h, "/v1/sessions/1/messages/1/export", ``)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
		ETag string `json:"etag"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Key != "sessions/1/messages/1/result.parquet" || body.Size != 2048 || body.ETag != "abc123" {
		t.Fatalf("body = %+v", body)
	}
	if exporter.lastSessionID != 1 || exporter.lastMessageID != 1 {
		t.Fatalf("exporter saw session=%d message=%d", exporter.lastSessionID, exporter.lastMessageID)
	}
	if exporter.lastResult.RowCount != 1 || len(exporter.lastResult.Rows) != 1 {
		t.Fatalf("exporter result = %+v", exporter.lastResult)
	}
}

func TestExportResultWithoutExecution(t *testing.T) {
	cases := []struct {
		name     string
		metadata string
	}{
		{"no metadata", ""},
		{"no execution", `{"sql":"SELECT 1"}`},
		{"failed execution", `{"execution":{"success":false,"error":"relation missing"}}`},
		{"empty result", `{"execution":{"success":true,"row_count":0}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := exportFixture(t, tc.metadata)
			h := NewHandler(testConfig(t), Dependencies{Repo: repo, Exporter: &fakeExporter{}})

			rr := postJSON(t, h, "/v1/sessions/1/messages/1/export", ``)
			if rr.Code != http.StatusConflict {
				t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
			}
			if errorCode(t, rr) != "EXPORT_UNAVAILABLE" {
				t.Fatalf("error_code = %s", errorCode(t, rr))
			}
		})
	}
}

func TestExportResultMessageNotFound(t *testing.T) {
	repo := exportFixture(t, ``)
	h := NewHandler(testConfig(t), Dependencies{Repo: repo, Exporter: &fakeExporter{}})

	rr := postJSON(t, h, "/v1/sessions/1/messages/99/export", ``)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "MESSAGE_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func TestExportResultNotConfigured(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	rr := postJSON(t, h, "/v1/sessions/1/messages/1/export", ``)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "EXPORT_NOT_CONFIGURED" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func TestDownloadExportStreamsObject(t *testing.T) {
	exporter := &fakeExporter{content: "parquet bytes"}
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo(), Exporter: exporter})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/exports/sessions/1/messages/2/result.parquet", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if exporter.lastKey != "sessions/1/messages/2/result.parquet" {
		t.Fatalf("key = %q", exporter.lastKey)
	}
	if rr.Body.String() != "parquet bytes" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="result.parquet"` {
		t.Fatalf("content disposition = %q", got)
	}
}

func TestDownloadExportNotFound(t *testing.T) {
	exporter := &fakeExporter{openErr: fmt.Errorf("stat object: %w", export.ErrObjectNotFound)}
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo(), Exporter: exporter})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/exports/sessions/9/messages/9/result.parquet", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "EXPORT_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}
