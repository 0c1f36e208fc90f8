package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenWebUI serves a fixed model listing and records every write.
type fakeOpenWebUI struct {
	t        *testing.T
	models   []map[string]any
	rejectID string
	status   int

	mu      sync.Mutex
	writes  []string
	headers http.Header
}

func (f *fakeOpenWebUI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = r.Header.Clone()
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/models":
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.models})
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/models/model":
		id := r.URL.Query().Get("id")
		for _, m := range f.models {
			if m["id"] == id {
				_ = json.NewEncoder(w).Encode(m)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/models/model/update":
		id := r.URL.Query().Get("id")
		f.mu.Lock()
		f.writes = append(f.writes, id)
		f.mu.Unlock()
		if id == f.rejectID {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"invalid meta"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeOpenWebUI) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.writes...)
	sort.Strings(out)
	return out
}

func (f *fakeOpenWebUI) lastHeaders() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers
}

func derived(id, base string) map[string]any {
	return map[string]any{"id": id, "name": strings.ToUpper(id), "base_model_id": base}
}

// isolate keeps the developer's environment and any ./.env out of the run.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{
		"OPENWEBUI_URL", "OPENWEBUI_API_BASE_PATH", "OPENWEBUI_API_KEY",
		"CF_ACCESS_CLIENT_ID", "CF_ACCESS_CLIENT_SECRET", "MODEL_UPDATER_EXTRA_HEADERS",
		"MODEL_UPDATER_SOURCE_MODEL", "MODEL_UPDATER_TARGET_MODEL", "MODEL_UPDATER_CONCURRENCY",
		"MODEL_UPDATER_SEQUENTIAL", "MODEL_UPDATER_DRY_RUN", "PUSHGATEWAY_URL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func startFake(t *testing.T, fake *fakeOpenWebUI) string {
	t.Helper()
	fake.t = t
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return server.URL
}

func TestUpdateDryRunWritesNothing(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{models: []map[string]any{
		derived("a", "old"), derived("b", "old"), derived("c", "other"),
	}}
	url := startFake(t, fake)

	code, stdout, _ := run(t, "update", "--url", url, "--api-key", "sk-test",
		"--from", "old", "--to", "new", "--dry-run")

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "would update a (A): old -> new")
	assert.Contains(t, stdout, "would update b (B): old -> new")
	assert.NotContains(t, stdout, "would update c")
	assert.Empty(t, fake.written())
}

func TestUpdateParallelAllSucceed(t *testing.T) {
	isolate(t)
	var models []map[string]any
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		models = append(models, derived(id, "old"))
	}
	fake := &fakeOpenWebUI{models: models}
	url := startFake(t, fake)

	code, stdout, stderr := run(t, "update", "--url", url, "--api-key", "sk-test",
		"--from", "old", "--to", "new", "--concurrency", "3", "--summary-format", "json")

	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, fake.written())

	var summary struct {
		Mode      string   `json:"mode"`
		Succeeded []string `json:"succeeded"`
		Failed    []any    `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "parallel", summary.Mode)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, summary.Succeeded)
	assert.Empty(t, summary.Failed)
}

func TestUpdateSequentialPartialFailure(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{
		models: []map[string]any{
			derived("A", "old"), derived("B", "old"), derived("C", "old"), derived("D", "old"), derived("E", "old"),
		},
		rejectID: "C",
	}
	url := startFake(t, fake)

	code, stdout, _ := run(t, "update", "--url", url, "--api-key", "sk-test",
		"--from", "old", "--to", "new", "--sequential")

	assert.Equal(t, exitPartialFailure, code)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, fake.written())
	assert.Contains(t, stdout, "mode:")
	assert.Contains(t, stdout, "sequential")
	assert.Contains(t, stdout, "  - C: ValidationError")
}

func TestUpdateAuthFailureIsFatal(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{status: http.StatusUnauthorized}
	url := startFake(t, fake)

	code, stdout, stderr := run(t, "update", "--url", url, "--api-key", "sk-wrong",
		"--from", "old", "--to", "new")

	assert.Equal(t, exitFatal, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error: AuthError")
	assert.Empty(t, fake.written())
}

func TestUpdateRequiresTarget(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{}
	url := startFake(t, fake)

	code, _, stderr := run(t, "update", "--url", url, "--api-key", "sk-test", "--from", "old")

	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, "ConfigError")
	assert.Contains(t, stderr, "--to")
	assert.Nil(t, fake.lastHeaders(), "no request may be sent")
}

func TestServiceHeadersReachTheServer(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{models: []map[string]any{derived("a", "old")}}
	url := startFake(t, fake)

	code, _, stderr := run(t, "list", "--url", url, "--api-key", "sk-test",
		"--cf-id", "cf-id", "--cf-secret", "cf-secret", "--header", "X-Tenant=acme")

	require.Equal(t, exitOK, code, stderr)
	headers := fake.lastHeaders()
	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "cf-id", headers.Get("CF-Access-Client-Id"))
	assert.Equal(t, "cf-secret", headers.Get("CF-Access-Client-Secret"))
	assert.Equal(t, "acme", headers.Get("X-Tenant"))
	assert.NotContains(t, stderr, "cf-secret")
}

func TestListAndShow(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{models: []map[string]any{derived("writer", "gpt-4"), derived("coder", "gpt-4o")}}
	url := startFake(t, fake)

	code, stdout, stderr := run(t, "list", "--url", url)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "BASE MODEL")
	assert.Contains(t, stdout, "writer")
	assert.Contains(t, stdout, "gpt-4o")

	code, stdout, stderr = run(t, "show", "coder", "--url", url)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "base_model_id: gpt-4o")
	assert.Contains(t, stdout, "id: coder")

	code, _, stderr = run(t, "show", "missing", "--url", url)
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, "NotFoundError")
}

func TestConfigFileAndEnvironment(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{models: []map[string]any{derived("a", "old"), derived("b", "keep")}}
	url := startFake(t, fake)

	require.NoError(t, os.WriteFile("updater.yaml", []byte("source_model: old\ntarget_model: new\nsequential: true\n"), 0o600))
	t.Setenv("OPENWEBUI_URL", url)
	t.Setenv("OPENWEBUI_API_KEY", "sk-env")

	code, stdout, stderr := run(t, "update", "--config", "updater.yaml")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, []string{"a"}, fake.written())
	assert.Contains(t, stdout, "sequential")
	assert.Equal(t, "Bearer sk-env", fake.lastHeaders().Get("Authorization"))
}

func TestLegacyFlagAliases(t *testing.T) {
	isolate(t)
	fake := &fakeOpenWebUI{models: []map[string]any{derived("a", "old"), derived("b", "old")}}
	url := startFake(t, fake)

	code, stdout, stderr := run(t, "update", "--url", url, "--api-key", "sk-test",
		"--from", "old", "--to", "new", "--workers", "1", "--no-batch", "--summary-format", "json")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, []string{"a", "b"}, fake.written())
	assert.Contains(t, stdout, `"mode": "sequential"`)

	code, _, stderr = run(t, "update", "--url", url, "--api-key", "sk-test",
		"--from", "old", "--to", "new", "--workers", "0")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, "concurrency must be at least 1")
}
