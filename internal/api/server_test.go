package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medguard/internal/api"
	"medguard/internal/fs"
	"medguard/internal/guard"
	"medguard/internal/metrics"
	"medguard/internal/testutil"
)

// newTestServer serves h with every file under /data in scope.
func newTestServer(t *testing.T, h *testutil.Harness) *httptest.Server {
	t.Helper()
	return newScopedServer(t, h, api.Scope{Filter: fs.NewFilter([]string{"/data"}, nil, nil)})
}

func newScopedServer(t *testing.T, h *testutil.Harness, scope api.Scope) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(api.NewServer(h.Service, scope, metrics.NewMetrics().Handler(), guard.NewNopLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any) (int, api.OperationResult) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var result api.OperationResult
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode, result
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, testutil.NewHarness(t, testutil.HarnessOptions{}))
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_BackupAndQueries(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	h.MockFS.AddFile("/data/a.dcm", []byte("DICM study"))
	srv := newTestServer(t, h)

	code, result := postJSON(t, srv.URL+"/api/backup", map[string]string{"file_path": "/data/a.dcm"})
	if code != http.StatusOK || !result.Success {
		t.Fatalf("backup = %d %+v", code, result)
	}
	if result.Version == nil || result.Version.Version != 1 || result.Created == nil || !*result.Created {
		t.Errorf("backup result = %+v", result)
	}

	code, result = postJSON(t, srv.URL+"/api/backup", map[string]string{"file_path": "/data/a.dcm"})
	if code != http.StatusOK || result.Created == nil || *result.Created {
		t.Errorf("second backup = %d %+v, want unchanged", code, result)
	}

	var st guard.Status
	if code := getJSON(t, srv.URL+"/api/status", &st); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if st.BackedUpFiles != 1 || st.BackupVersions != 1 {
		t.Errorf("status = %+v", st)
	}

	var backups []guard.BackupInfo
	getJSON(t, srv.URL+"/api/backups", &backups)
	if len(backups) != 1 || backups[0].FilePath != "/data/a.dcm" {
		t.Errorf("backups = %+v", backups)
	}

	var info guard.BackupInfo
	getJSON(t, srv.URL+"/api/backups/versions?path=/data/a.dcm", &info)
	if len(info.Versions) != 1 {
		t.Errorf("versions = %+v", info)
	}

	if code := getJSON(t, srv.URL+"/api/backups/versions", nil); code != http.StatusBadRequest {
		t.Errorf("versions without path = %d, want 400", code)
	}
}

func TestServer_BackupErrors(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	srv := newTestServer(t, h)

	code, result := postJSON(t, srv.URL+"/api/backup", map[string]string{"file_path": "/data/missing.dcm"})
	if code != http.StatusUnprocessableEntity || result.Success || result.ErrorKind != "io_error" {
		t.Errorf("backup of missing file = %d %+v", code, result)
	}

	if code, _ := postJSON(t, srv.URL+"/api/backup", map[string]string{}); code != http.StatusBadRequest {
		t.Errorf("backup without path = %d, want 400", code)
	}
}

func TestServer_Restore(t *testing.T) {
	t.Run("restores to a target", func(t *testing.T) {
		h := testutil.NewHarness(t, testutil.HarnessOptions{})
		h.MockFS.AddFile("/data/a.dcm", []byte("original"))
		h.Service.Backup("/data/a.dcm")
		restoreDir := t.TempDir()
		srv := newScopedServer(t, h, api.Scope{
			Filter:     fs.NewFilter([]string{"/data"}, nil, nil),
			RestoreDir: restoreDir,
		})

		target := filepath.Join(restoreDir, "a.dcm")
		code, result := postJSON(t, srv.URL+"/api/restore", map[string]any{"file_path": "/data/a.dcm", "target": target})
		if code != http.StatusOK || !result.Success {
			t.Fatalf("restore = %d %+v", code, result)
		}
		got, _ := os.ReadFile(target)
		if string(got) != "original" {
			t.Errorf("restored content = %q", got)
		}
	})

	t.Run("reports missing history", func(t *testing.T) {
		srv := newTestServer(t, testutil.NewHarness(t, testutil.HarnessOptions{}))
		code, result := postJSON(t, srv.URL+"/api/restore", map[string]any{"file_path": "/data/none.dcm"})
		if code != http.StatusNotFound || result.Success || result.ErrorKind != "no_backups" {
			t.Errorf("restore = %d %+v", code, result)
		}
	})

	t.Run("reports unknown version", func(t *testing.T) {
		h := testutil.NewHarness(t, testutil.HarnessOptions{})
		h.MockFS.AddFile("/data/a.dcm", []byte("original"))
		h.Service.Backup("/data/a.dcm")
		srv := newTestServer(t, h)

		code, result := postJSON(t, srv.URL+"/api/restore", map[string]any{"file_path": "/data/a.dcm", "version": 9})
		if code != http.StatusNotFound || result.ErrorKind != "version_not_found" {
			t.Errorf("restore = %d %+v", code, result)
		}
	})
}

func TestServer_PathScope(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(root, "a.dcm"), "DICM study")
	writeFile(t, filepath.Join(root, "notes.txt"), "not protected")
	writeFile(t, filepath.Join(outside, "secret.dcm"), "top secret")

	h := testutil.NewHarness(t, testutil.HarnessOptions{Filesystem: fs.NewOSFilesystemManager()})
	srv := newScopedServer(t, h, api.Scope{Filter: fs.NewFilter([]string{root}, []string{".dcm"}, nil)})

	rejected := []struct {
		name string
		url  string
		body map[string]any
	}{
		{"backup outside roots", "/api/backup", map[string]any{"file_path": filepath.Join(outside, "secret.dcm")}},
		{"backup escaping root with dot-dot", "/api/backup", map[string]any{"file_path": root + "/../" + filepath.Base(outside) + "/secret.dcm"}},
		{"backup filtered extension", "/api/backup", map[string]any{"file_path": filepath.Join(root, "notes.txt")}},
		{"restore source outside roots", "/api/restore", map[string]any{"file_path": filepath.Join(outside, "secret.dcm")}},
		{"restore target outside roots", "/api/restore", map[string]any{"file_path": filepath.Join(root, "a.dcm"), "target": filepath.Join(outside, "dropped.dcm")}},
	}

	code, result := postJSON(t, srv.URL+"/api/backup", map[string]any{"file_path": filepath.Join(root, "a.dcm")})
	if code != http.StatusOK || !result.Success {
		t.Fatalf("backup in scope = %d %+v", code, result)
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			code, result := postJSON(t, srv.URL+tt.url, tt.body)
			if code != http.StatusBadRequest || result.Success || result.ErrorKind != "out_of_scope" {
				t.Errorf("%s = %d %+v, want 400 out_of_scope", tt.url, code, result)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(outside, "dropped.dcm")); !os.IsNotExist(err) {
		t.Errorf("out-of-scope restore target was written: %v", err)
	}
	var backups []guard.BackupInfo
	getJSON(t, srv.URL+"/api/backups", &backups)
	if len(backups) != 1 {
		t.Errorf("got %d backed-up paths, want 1: %+v", len(backups), backups)
	}

	t.Run("restore target inside a root", func(t *testing.T) {
		target := filepath.Join(root, "restored", "a.dcm")
		code, result := postJSON(t, srv.URL+"/api/restore", map[string]any{"file_path": filepath.Join(root, "a.dcm"), "target": target})
		if code != http.StatusOK || !result.Success {
			t.Fatalf("restore = %d %+v", code, result)
		}
		if got, _ := os.ReadFile(target); string(got) != "DICM study" {
			t.Errorf("restored content = %q", got)
		}
	})
}

func TestServer_RelativePathsShareAbsoluteKey(t *testing.T) {
	root := t.TempDir()
	abs := filepath.Join(root, "a.dcm")
	writeFile(t, abs, "DICM study")

	h := testutil.NewHarness(t, testutil.HarnessOptions{Filesystem: fs.NewOSFilesystemManager()})
	srv := newScopedServer(t, h, api.Scope{Filter: fs.NewFilter([]string{root}, nil, nil)})
	if _, _, err := h.Service.Backup(abs); err != nil {
		t.Fatal(err)
	}

	t.Chdir(root)
	code, result := postJSON(t, srv.URL+"/api/backup", map[string]any{"file_path": "a.dcm"})
	if code != http.StatusOK || result.Created == nil || *result.Created {
		t.Fatalf("relative backup = %d %+v, want unchanged", code, result)
	}
	if result.Version == nil || result.Version.Version != 1 {
		t.Errorf("relative backup version = %+v, want 1", result.Version)
	}

	var info guard.BackupInfo
	getJSON(t, srv.URL+"/api/backups/versions?path=a.dcm", &info)
	if info.FilePath != abs || len(info.Versions) != 1 {
		t.Errorf("versions = %s %d, want %s 1", info.FilePath, len(info.Versions), abs)
	}

	code, result = postJSON(t, srv.URL+"/api/backup", map[string]any{"file_path": "../elsewhere.dcm"})
	if code != http.StatusBadRequest || result.ErrorKind != "out_of_scope" {
		t.Errorf("relative escape = %d %+v, want 400 out_of_scope", code, result)
	}
}

func TestServer_Changes(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{BlockSize: 4})
	h.MockFS.AddFile("/data/a.hl7", []byte("MSH|PID|OBX|"))
	if _, _, err := h.Service.Backup("/data/a.hl7"); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, h)

	var got struct {
		FilePath      string `json:"file_path"`
		ChangedBlocks []int  `json:"changed_blocks"`
	}
	getJSON(t, srv.URL+"/api/backups/changes?path=/data/a.hl7", &got)
	if got.ChangedBlocks == nil || len(got.ChangedBlocks) != 0 {
		t.Errorf("changes before edit = %v, want []", got.ChangedBlocks)
	}

	h.MockFS.AddFile("/data/a.hl7", []byte("MSH|XXX|OBX|"))
	getJSON(t, srv.URL+"/api/backups/changes?path=/data/a.hl7", &got)
	if len(got.ChangedBlocks) != 1 || got.ChangedBlocks[0] != 1 {
		t.Errorf("changes after edit = %v, want [1]", got.ChangedBlocks)
	}

	if code := getJSON(t, srv.URL+"/api/backups/changes?path=/etc/passwd", nil); code != http.StatusBadRequest {
		t.Errorf("out-of-scope changes status = %d, want 400", code)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestServer_AlertsAndThreat(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	for i := 0; i < 3; i++ {
		h.Alerts.Append(guard.ThreatAlert{ID: fmt.Sprintf("a%d", i), Score: 80})
	}
	for i := 0; i < 51; i++ {
		h.Service.HandleEvent(guard.FileEvent{Path: fmt.Sprintf("/data/%d.dcm", i), Timestamp: h.Clock.Now()})
	}
	srv := newTestServer(t, h)

	var alerts []guard.ThreatAlert
	getJSON(t, srv.URL+"/api/alerts?limit=2", &alerts)
	if len(alerts) != 2 || alerts[0].ID != "a2" {
		t.Errorf("alerts = %+v", alerts)
	}
	if code := getJSON(t, srv.URL+"/api/alerts?limit=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}

	var a guard.Assessment
	getJSON(t, srv.URL+"/api/threat", &a)
	if a.Score != 30 || len(a.Reasons) != 1 {
		t.Errorf("threat = %+v", a)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t, testutil.NewHarness(t, testutil.HarnessOptions{}))
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Serve(t *testing.T) {
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	s := api.NewServer(h.Service, api.Scope{}, nil, guard.NewNopLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
