package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"testtrack/server/internal/auth"
	"testtrack/server/internal/lock"
	"testtrack/server/internal/models"
	"testtrack/server/internal/projects"
	"testtrack/server/internal/storage"
	"testtrack/server/internal/testfiles"
	"testtrack/server/internal/users"
	"testtrack/server/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	passing = `{"stats":{"failures":0,"tests":2},"results":[{"suites":[{"tests":[{"pass":true}]}]}]}`
	failing = `[{"result":"Fail"}]`
)

type testEnv struct {
	server *Server
	db     *gorm.DB
	issuer *auth.TokenIssuer
	tokens map[string]string // role -> token
}

func newTestEnv(t *testing.T, development bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))

	st, err := storage.NewStorage(t.TempDir())
	require.NoError(t, err)

	log := zap.NewNop()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	hub := websocket.NewHub(log)
	userSvc := users.NewService(db, issuer, log)

	server := NewServer(Options{
		DB:          db,
		TestFiles:   testfiles.NewService(db, st, lock.NewLocalLocker(), hub, log),
		Projects:    projects.NewService(db, log),
		Users:       userSvc,
		Issuer:      issuer,
		Hub:         hub,
		Logger:      log,
		Development: development,
		WebDistPath: filepath.Join(t.TempDir(), "missing"),
	})

	env := &testEnv{server: server, db: db, issuer: issuer, tokens: map[string]string{}}
	for _, role := range []string{models.RoleAdmin, models.RoleManager, models.RoleTester, models.RoleViewer} {
		hash, err := auth.HashPassword("pw-" + role)
		require.NoError(t, err)
		user := &models.User{ID: "u-" + role, Username: role, PasswordHash: hash, Role: role}
		require.NoError(t, db.Create(user).Error)
		token, err := issuer.Issue(users.Principal(user))
		require.NoError(t, err)
		env.tokens[role] = token
	}

	now := time.Now()
	require.NoError(t, db.Create(&models.Project{ID: "p-1", Name: "Checkout", CreatedAt: now}).Error)
	require.NoError(t, db.Create(&[]models.Sprint{
		{ID: "s-a", ProjectID: "p-1", Name: "Sprint A", CreatedAt: now},
		{ID: "s-b", ProjectID: "p-1", Name: "Sprint B", CreatedAt: now},
	}).Error)

	return env
}

func (e *testEnv) do(t *testing.T, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := e.tokens[role]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, role, path string, fields map[string]string, filename, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="testFile"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "tester", "password": "pw-tester"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	me := httptest.NewRecorder()
	env.server.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "tester", decode(t, me)["username"])
	assert.NotContains(t, me.Body.String(), "password")

	w = env.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "tester", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "tester"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "password is required", decode(t, w)["error"])

	w = env.do(t, "", http.MethodGet, "/api/test-files", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/test-files", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpload_Created(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.upload(t, models.RoleTester, "/api/test-files/upload",
		map[string]string{"sprint_id": "s-a", "filename": "Login suite"}, "login.json", "application/json", passing)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.NotEmpty(t, body["file_id"])
	assert.Equal(t, "Login suite", body["filename"])
	assert.Equal(t, models.StatusPass, body["status"])

	id := body["file_id"].(string)
	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	file := decode(t, w)
	assert.Equal(t, "login.json", file["original_filename"])
	assert.NotContains(t, file, "content")

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files/content/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, passing, w.Body.String())
}

func TestUpload_Duplicates(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "s-a"}, "login.json", "application/json", passing)
	require.Equal(t, http.StatusCreated, w.Code)
	firstID := decode(t, w)["file_id"]

	w = env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "s-a"}, "login.json", "application/json", failing)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, firstID, body["file_id"])
	assert.Equal(t, true, body["requiresConfirmation"])
	assert.Equal(t, true, body["sameSprint"])
	assert.NotEmpty(t, body["message"])

	w = env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "s-b"}, "login.json", "application/json", failing)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	assert.Equal(t, "s-a", body["existingSprintId"])
	assert.Equal(t, "Sprint A", body["existingSprintName"])
	assert.Equal(t, true, body["cannotUpload"])

	// confirmation goes through the update route
	w = env.upload(t, models.RoleTester, fmt.Sprintf("/api/test-files/upload/%s", firstID), nil, "login.json", "application/json", failing)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusFail, decode(t, w)["status"])

	var count int64
	require.NoError(t, env.db.Model(&models.TestFile{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpload_Rejects(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "s-a"}, "notes.txt", "text/plain", passing)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "s-a"}, "broken.json", "application/json", `{"stats":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, models.RoleTester, "/api/test-files/upload", nil, "login.json", "application/json", passing)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "nope"}, "login.json", "application/json", passing)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.upload(t, models.RoleViewer, "/api/test-files/upload", map[string]string{"sprint_id": "s-a"}, "login.json", "application/json", passing)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, models.RoleTester, http.MethodPost, "/api/test-files/upload", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestFileLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, models.RoleTester, http.MethodPost, "/api/test-files", map[string]interface{}{
		"filename":  "checkout.json",
		"sprint_id": "s-a",
		"content":   json.RawMessage(failing),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["file_id"].(string)

	w = env.do(t, models.RoleTester, http.MethodPut, "/api/test-files/"+id, map[string]string{"filename": "Checkout suite"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Checkout suite", body["filename"])
	assert.Equal(t, models.StatusFail, body["status"])

	w = env.do(t, models.RoleTester, http.MethodPut, "/api/test-files/"+id, map[string]string{"status": "Deleted"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "status must be one of")

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files?sprint_id=s-a&status=Fail", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files/stats?project_id=p-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(1), stats["fail"])

	w = env.do(t, models.RoleTester, http.MethodDelete, "/api/test-files/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/test-files/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)["history"].([]interface{})
	assert.Len(t, history, 3)
	latest := history[0].(map[string]interface{})
	assert.Equal(t, models.HistoryDelete, latest["action"])

	// same name and sprint again after the delete
	w = env.upload(t, models.RoleTester, "/api/test-files/upload", map[string]string{"sprint_id": "s-a"}, "checkout.json", "application/json", passing)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestProjectsAndActionLogs(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, models.RoleTester, http.MethodPost, "/api/projects", map[string]string{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, models.RoleManager, http.MethodPost, "/api/projects", map[string]string{"name": "Search"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	projectID := decode(t, w)["id"].(string)

	w = env.do(t, models.RoleManager, http.MethodPost, "/api/sprints", map[string]interface{}{
		"project_id": projectID,
		"name":       "Sprint 1",
		"start_date": "2026-01-05T00:00:00Z",
		"end_date":   "2026-01-19T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sprintID := decode(t, w)["id"].(string)

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/projects/"+projectID+"/sprints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sprints"], 1)

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/sprints/"+sprintID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["total"])

	w = env.do(t, models.RoleViewer, http.MethodGet, "/api/action-logs", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, models.RoleAdmin, http.MethodGet, "/api/action-logs?action_type=CREATE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["total"])
}

func TestRecovery(t *testing.T) {
	for _, development := range []bool{false, true} {
		env := newTestEnv(t, development)
		env.server.Router().GET("/boom", func(c *gin.Context) { panic("kaboom") })

		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		if development {
			assert.Equal(t, "kaboom", decode(t, w)["error"])
		} else {
			assert.Equal(t, "internal server error", decode(t, w)["error"])
		}
	}
}

func TestHealthAndStatic(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "", http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>spa</html>"), 0644))
	router := gin.New()
	ServeStaticFiles(router, dist)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects/p-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "spa")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
