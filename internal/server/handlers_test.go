package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedsrv/internal/config"
	"schedsrv/internal/journal"
	"schedsrv/internal/static"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newTestConfig は一時ディレクトリをドキュメントルートにした設定を返す
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Root = t.TempDir()
	return cfg
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestOptions(t *testing.T) {
	srv := New(newTestConfig(t))

	for _, path := range []string{"/", "/api/save-schedule", "/anything/else.css"} {
		t.Run(path, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodOptions, path, "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Empty(t, w.Body.String())
		})
	}
}

func TestStaticFiles(t *testing.T) {
	cfg := newTestConfig(t)
	root := cfg.Server.Root
	writeFile(t, root, "index.html", "<h1>Room timetable</h1>")
	writeFile(t, root, "schedule_viewer.js", "window.viewer = {}")
	writeFile(t, root, "output/schedule.json", `[{"id": 1}]`)
	writeFile(t, root, "style.css", "body {}")
	srv := New(cfg)

	testCases := []struct {
		name        string
		path        string
		status      int
		contentType string
		cors        string
		body        string
	}{
		{"html", "/index.html", http.StatusOK, "text/html", "", "<h1>Room timetable</h1>"},
		{"js", "/schedule_viewer.js", http.StatusOK, "application/javascript", "", "window.viewer = {}"},
		{"json", "/output/schedule.json", http.StatusOK, "application/json", "*", `[{"id": 1}]`},
		{"unsupported suffix existing", "/style.css", http.StatusNotFound, "", "", "File not found"},
		{"no suffix", "/api/save-schedule", http.StatusNotFound, "", "", "File not found"},
		{"missing html", "/missing.html", http.StatusNotFound, "", "", "File not found"},
		{"missing json", "/output/missing.json", http.StatusNotFound, "", "", "File not found"},
		{"url encoded", "/output/sch%65dule.json", http.StatusOK, "application/json", "*", `[{"id": 1}]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodGet, tc.path, "")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.body, w.Body.String())
			if tc.contentType != "" {
				assert.Equal(t, tc.contentType, w.Header().Get("Content-Type"))
			}
			assert.Equal(t, tc.cors, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestStaticRootIsIndex(t *testing.T) {
	cfg := newTestConfig(t)
	writeFile(t, cfg.Server.Root, "index.html", "<html>schedule editor</html>")
	srv := New(cfg)

	root := do(t, srv.Handler(), http.MethodGet, "/", "")
	index := do(t, srv.Handler(), http.MethodGet, "/index.html", "")

	require.Equal(t, http.StatusOK, root.Code)
	assert.Equal(t, index.Body.Bytes(), root.Body.Bytes())
	assert.Equal(t, index.Header().Get("Content-Type"), root.Header().Get("Content-Type"))
}

func TestStaticReadErrorIsServerError(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Server.Root, "dir.html"), 0755))
	srv := New(cfg)

	w := do(t, srv.Handler(), http.MethodGet, "/dir.html", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Body.String())
}

// failingAssets は常に同じエラーを返す
type failingAssets struct{ err error }

func (f failingAssets) Open(string) (*static.Asset, error) { return nil, f.err }

func TestStaticPermissionIsServerError(t *testing.T) {
	srv := New(newTestConfig(t))
	srv.assets = failingAssets{err: &fs.PathError{Op: "open", Path: "locked.json", Err: fs.ErrPermission}}

	w := do(t, srv.Handler(), http.MethodGet, "/locked.json", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "permission denied")
}

func TestStaticStrictBlocksTraversal(t *testing.T) {
	parent := t.TempDir()
	writeFile(t, parent, "secret.json", `{"token": "x"}`)
	cfg := newTestConfig(t)
	cfg.Server.Root = filepath.Join(parent, "site")
	require.NoError(t, os.MkdirAll(cfg.Server.Root, 0755))

	w := do(t, New(cfg).Handler(), http.MethodGet, "/../secret.json", "")
	assert.Equal(t, http.StatusOK, w.Code, "traversal is served unless strict mode is on")

	cfg.Server.Strict = true
	w = do(t, New(cfg).Handler(), http.MethodGet, "/../secret.json", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func TestSaveSchedule(t *testing.T) {
	cfg := newTestConfig(t)
	srv := New(cfg)

	w := do(t, srv.Handler(), http.MethodPost, "/api/save-schedule",
		`{"data": [1,2,3], "filepath": "./output/test.json"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	result := decodeResult(t, w)
	assert.Equal(t, true, result["success"])
	assert.Contains(t, result["message"], "saved 3 sessions")
	assert.Equal(t, "Successfully saved 3 sessions to ./output/test.json", result["message"])
	assert.Equal(t, "./output/test.json", result["filepath"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}$`, result["timestamp"])
	assert.Len(t, result, 4)

	dir := filepath.Join(cfg.Server.Root, "output")
	content, err := os.ReadFile(filepath.Join(dir, "test.json"))
	require.NoError(t, err)
	assert.Equal(t, "[\n  1,\n  2,\n  3\n]", string(content))

	matches, err := filepath.Glob(filepath.Join(dir, "*_backup_*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSaveSchedule_TwiceKeepsBackup(t *testing.T) {
	cfg := newTestConfig(t)
	srv := New(cfg)

	first := do(t, srv.Handler(), http.MethodPost, "/api/save-schedule",
		`{"data": [{"id": "a"}], "filepath": "./output/s.json"}`)
	require.Equal(t, http.StatusOK, first.Code)
	second := do(t, srv.Handler(), http.MethodPost, "/api/save-schedule",
		`{"data": [{"id": "b"}, {"id": "c"}], "filepath": "./output/s.json"}`)
	require.Equal(t, http.StatusOK, second.Code)

	dir := filepath.Join(cfg.Server.Root, "output")
	current, err := os.ReadFile(filepath.Join(dir, "s.json"))
	require.NoError(t, err)
	var got []map[string]string
	require.NoError(t, json.Unmarshal(current, &got))
	assert.Equal(t, []map[string]string{{"id": "b"}, {"id": "c"}}, got)

	matches, err := filepath.Glob(filepath.Join(dir, "s_backup_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	backup, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var old []map[string]string
	require.NoError(t, json.Unmarshal(backup, &old))
	assert.Equal(t, []map[string]string{{"id": "a"}}, old)
}

func TestSaveSchedule_InvalidPath(t *testing.T) {
	cfg := newTestConfig(t)
	srv := New(cfg)

	for _, body := range []string{
		`{"data": [1], "filepath": "./etc/passwd.json"}`,
		`{"data": [1]}`,
		`{"data": [1], "filepath": "/abs/output/x.json"}`,
	} {
		t.Run(body, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodPost, "/api/save-schedule", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid file path", w.Body.String())
		})
	}

	entries, err := os.ReadDir(cfg.Server.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveSchedule_ServerErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"data": [1,`},
		{"empty body", ""},
		{"array body", `[1, 2]`},
		{"non-string filepath", `{"data": [], "filepath": 5}`},
		{"scalar data", `{"data": 7, "filepath": "./output/x.json"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			w := do(t, New(cfg).Handler(), http.MethodPost, "/api/save-schedule", tc.body)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.True(t, strings.HasPrefix(w.Body.String(), "Error saving file: "), w.Body.String())
		})
	}
}

func TestSaveSchedule_WriteFailure(t *testing.T) {
	cfg := newTestConfig(t)
	// output をファイルにしてディレクトリ作成を失敗させる
	writeFile(t, cfg.Server.Root, "output", "not a directory")

	w := do(t, New(cfg).Handler(), http.MethodPost, "/api/save-schedule",
		`{"data": [], "filepath": "./output/x.json"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Error saving file: ")
}

func TestSaveSchedule_DanglingSymlink(t *testing.T) {
	cfg := newTestConfig(t)
	dir := filepath.Join(cfg.Server.Root, "output")
	require.NoError(t, os.MkdirAll(dir, 0755))
	// 存在しないディレクトリ内を指すリンクなので書き込みは ENOENT で失敗する
	require.NoError(t, os.Symlink(filepath.Join(cfg.Server.Root, "missing", "s.json"), filepath.Join(dir, "s.json")))

	w := do(t, New(cfg).Handler(), http.MethodPost, "/api/save-schedule",
		`{"data": [1], "filepath": "./output/s.json"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "Error saving file: "), w.Body.String())
	assert.Contains(t, w.Body.String(), "no such file or directory")
}

func TestSaveFailedIsAlwaysServerError(t *testing.T) {
	srv := New(newTestConfig(t))

	testCases := []struct {
		name string
		err  error
	}{
		{"permission", fmt.Errorf("write ./output/s.json: %w", &fs.PathError{Op: "open", Path: "s.json", Err: fs.ErrPermission})},
		{"not exist", fmt.Errorf("backup ./output/s.json: %w", fs.ErrNotExist)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			srv.saveFailed(c, tc.err)

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "Error saving file: "+tc.err.Error(), w.Body.String())
		})
	}
}

func TestSaveSchedule_UnicodeEscapes(t *testing.T) {
	cfg := newTestConfig(t)
	w := do(t, New(cfg).Handler(), http.MethodPost, "/api/save-schedule",
		`{"data": ["caf\u00e9 \u6559\u5ba4"], "filepath": "./output/u.json"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	content, err := os.ReadFile(filepath.Join(cfg.Server.Root, "output", "u.json"))
	require.NoError(t, err)
	assert.Equal(t, "[\n  \"café 教室\"\n]", string(content))
}

func TestUnknownRoutes(t *testing.T) {
	srv := New(newTestConfig(t))

	testCases := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodPost, "/api/other", http.StatusNotFound, "Endpoint not found"},
		{http.MethodPost, "/api/save-schedule/", http.StatusNotFound, "Endpoint not found"},
		{http.MethodPost, "/", http.StatusNotFound, "Endpoint not found"},
		{http.MethodPut, "/api/save-schedule", http.StatusNotImplemented, "Unsupported method ('PUT')"},
		{http.MethodDelete, "/index.html", http.StatusNotImplemented, "Unsupported method ('DELETE')"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := do(t, srv.Handler(), tc.method, tc.path, "")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.body, w.Body.String())
		})
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := New(newTestConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("X-Request-ID", "client-chosen")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "client-chosen", w.Header().Get("X-Request-ID"))
}

func TestSaveSchedule_RecordsJournal(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(cfg.Journal.Path)
	require.NoError(t, err)
	srv := New(cfg, WithJournal(j))
	defer srv.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/save-schedule",
		strings.NewReader(`{"data": [1, 2], "filepath": "./output/j.json"}`))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// 失敗した保存は記録されない
	bad := do(t, srv.Handler(), http.MethodPost, "/api/save-schedule", `{"data": [1], "filepath": "./nope.json"}`)
	require.Equal(t, http.StatusBadRequest, bad.Code)

	entries, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "./output/j.json", entries[0].Filepath)
	assert.Equal(t, 2, entries[0].Sessions)
	assert.Equal(t, "req-42", entries[0].RequestID)
	assert.Empty(t, entries[0].BackupPath)
}

func TestRequestsAreSerialized(t *testing.T) {
	cfg := newTestConfig(t)
	writeFile(t, cfg.Server.Root, "index.html", "ok")
	srv := New(cfg)

	srv.dispatchMu.Lock()
	done := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/index.html", nil))
		done <- w.Code
	}()

	// ロック中は GET も処理されない
	select {
	case <-done:
		t.Fatal("request completed while another request held the dispatcher")
	case <-time.After(100 * time.Millisecond):
	}

	srv.dispatchMu.Unlock()
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete after the dispatcher was released")
	}
}
