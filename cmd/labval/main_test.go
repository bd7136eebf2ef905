package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvalidate/internal/engine"
	"labvalidate/internal/types"
)

// fakeOllama serves chat, embeddings and tags like a local Ollama server.
type fakeOllama struct {
	*httptest.Server
	chats  atomic.Int32
	embeds atomic.Int32
}

func newFakeOllama(t *testing.T, reply string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		f.chats.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "qwen3:8b",
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		f.embeds.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "qwen3:8b"}}})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeConfig writes a config pointing every Ollama endpoint at url.
func writeConfig(t *testing.T, dir, url, retrieval string) string {
	t.Helper()
	return writeFile(t, dir, "labval.yaml", `
llm:
  provider: ollama
  model: qwen3:8b
  base_url: `+url+`
  timeout: 5s
embedding:
  provider: ollama
  ollama_endpoint: `+url+`
  ollama_model: nomic-embed-text
  cache_size: 16
execution:
  max_concurrency: 2
  unit_timeout: 5s
  batch_timeout: 30s
simulator:
  success_rate: 1
  seed: 7
  min_latency: 1ms
  max_latency: 2ms
logging:
  level: error
  file: `+filepath.Join(dir, "labval.log")+`
`+retrieval)
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("LABVAL_DB", "")
	t.Setenv("LABVAL_LLM_PROVIDER", "")
	t.Setenv("LABVAL_MAX_CONCURRENCY", "")

	runJSON, runScripted, runConcurrency = false, false, 0
	searchK, feedbackNoAI = 5, false
	verbose, metrics = false, false
	if f := runCmd.Flags().Lookup("concurrency"); f != nil {
		f.Changed = false
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

const passReply = `{"outcome": "PASS", "confidence": 0.92, "rationale": "cell_count matches expected_count"}`

const batchYAML = `
name: nightly
items:
  - id: TC-001
    test_block: Cell Setup
    category: cell
    condition_text: cell count must match expected_count
    expected_count: 3
    targets: [Ericsson-MMU, Samsung-AUv1]
  - id: TC-002
    test_block: Carrier
    condition_text: carrier must be active
    targets: [Ericsson-RRU]
`

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()

	b, err := loadBatch(writeFile(t, dir, "batch.yaml", batchYAML))
	require.NoError(t, err)
	assert.Equal(t, "nightly", b.Name)
	assert.Equal(t, types.BatchPending, b.Status)
	require.Len(t, b.Items, 2)
	assert.Equal(t, 3, b.Items[0].ExpectedCount)
	assert.Equal(t, "Cell Setup", b.Items[0].Block)
	assert.Len(t, b.Units(), 3)

	_, err = loadBatch(writeFile(t, dir, "empty.yaml", "name: empty\n"))
	assert.ErrorIs(t, err, types.ErrInvalidBatch)

	_, err = loadBatch(writeFile(t, dir, "notargets.yaml", "items:\n  - id: TC-001\n"))
	assert.ErrorIs(t, err, types.ErrInvalidBatch)

	_, err = loadBatch(writeFile(t, dir, "dup.yaml",
		"items:\n  - id: TC-001\n    targets: [A]\n  - id: TC-001\n    targets: [B]\n"))
	assert.ErrorIs(t, err, types.ErrInvalidBatch)

	_, err = loadBatch(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadReviews(t *testing.T) {
	dir := t.TempDir()

	list, err := loadReviews(writeFile(t, dir, "list.yaml", `
reviews:
  - id: rv-1
    test_item_id: TC-001
    resolution: REVALIDATION_REQUESTED
    validation_feedback: compare with expected_count
  - id: rv-2
    test_item_id: TC-002
    resolution: APPROVED
`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, types.ReviewRevalidationRequested, list[0].Resolution)
	assert.Equal(t, types.ReviewApproved, list[1].Resolution)

	single, err := loadReviews(writeFile(t, dir, "single.yaml", `
id: rv-3
test_item_id: TC-003
resolution: REVALIDATION_REQUESTED
item_feedback: add a check for carrier state
`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "add a check for carrier state", single[0].ItemFeedback)

	_, err = loadReviews(writeFile(t, dir, "none.yaml", "reviewer: nobody\n"))
	assert.Error(t, err)
}

func TestRenderSummary(t *testing.T) {
	b := &types.Batch{
		Name:   "nightly",
		Status: types.BatchCompleted,
		Items:  []types.TestItem{{ID: "TC-001", Targets: []string{"Ericsson-MMU"}}},
		Results: []types.Result{
			types.NewResult(types.ExecutionUnit{TestItemID: "TC-001", EquipmentID: "Ericsson-MMU"}, types.OutcomePass, 0.9, "all good"),
		},
	}
	got := renderSummary(engine.Summarize(b))
	assert.Contains(t, got, "nightly")
	assert.Contains(t, got, "COMPLETED")
	assert.Contains(t, got, "100.0%")
	assert.Contains(t, got, "Ericsson-MMU")

	results := renderResults(b)
	assert.Contains(t, results, "TC-001")
	assert.Contains(t, results, "all good")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t c", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRunBatchJSON(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeOllama(t, passReply)
	cfgPath := writeConfig(t, dir, srv.URL, "")
	batchPath := writeFile(t, dir, "batch.yaml", batchYAML)

	out, err := execute(t, "-c", cfgPath, "run", batchPath, "--json")
	require.NoError(t, err)

	var report batchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, types.BatchCompleted, report.Batch.Status)
	require.Len(t, report.Batch.Results, 3)
	for _, r := range report.Batch.Results {
		assert.Equal(t, types.OutcomePass, r.Outcome)
		assert.InDelta(t, 0.92, r.Confidence, 1e-9)
		assert.Equal(t, types.ReviewNotRequired, r.ReviewStatus)
	}
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 3, report.Summary.ExpectedUnits)
	assert.InDelta(t, 1.0, report.Summary.SuccessRate, 1e-9)
	assert.Len(t, report.Summary.ByEquipment, 3)
	assert.Equal(t, int32(3), srv.chats.Load())
}

func TestRunBatchTable(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeOllama(t, passReply)
	cfgPath := writeConfig(t, dir, srv.URL, "")
	batchPath := writeFile(t, dir, "batch.yaml", batchYAML)

	out, err := execute(t, "-c", cfgPath, "run", batchPath, "--concurrency", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Results")
	assert.Contains(t, out, "Samsung-AUv1")
	assert.Contains(t, out, "COMPLETED")
}

func TestRunRejectsInvalidConcurrency(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeOllama(t, passReply)
	cfgPath := writeConfig(t, dir, srv.URL, "")
	batchPath := writeFile(t, dir, "batch.yaml", batchYAML)

	_, err := execute(t, "-c", cfgPath, "run", batchPath, "--concurrency", "100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Zero(t, srv.chats.Load())
}

func TestFeedbackThenSearch(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeOllama(t, "not json")
	dbPath := filepath.Join(dir, "knowledge.db")
	cfgPath := writeConfig(t, dir, srv.URL, "retrieval:\n  backend: sqlite\n  database_path: "+dbPath+"\n  top_k: 3\n")
	reviewPath := writeFile(t, dir, "reviews.yaml", `
reviews:
  - id: rv-1
    test_item_id: TC-001
    test_block: Cell Setup
    equipment_id: Ericsson-MMU
    resolution: REVALIDATION_REQUESTED
    validation_feedback: cell_count must be compared with expected_count
  - id: rv-2
    test_item_id: TC-002
    resolution: APPROVED
    validation_feedback: looks right
`)

	out, err := execute(t, "-c", cfgPath, "feedback", reviewPath, "--no-extract")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 1 knowledge entries from 2 reviews")
	assert.Zero(t, srv.chats.Load())

	out, err = execute(t, "-c", cfgPath, "search", "cell", "count")
	require.NoError(t, err)
	assert.Contains(t, out, "Cell Setup")
	assert.Contains(t, out, "vector")

	out, err = execute(t, "-c", cfgPath, "reembed")
	require.NoError(t, err)
	assert.Contains(t, out, "Re-embedded 1/1 documents")
}

func TestReembedRequiresSQLite(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeOllama(t, passReply)
	cfgPath := writeConfig(t, dir, srv.URL, "")

	_, err := execute(t, "-c", cfgPath, "reembed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestInitWritesLoadableDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "conf", "labval.yaml")
	t.Setenv("ANTHROPIC_API_KEY", "sk-should-not-be-written")
	initForce = false

	out, err := execute(t, "-c", cfgPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-should-not-be-written")

	_, err = execute(t, "-c", cfgPath, "init")
	assert.ErrorContains(t, err, "already exists")

	initForce = true
	t.Cleanup(func() { initForce = false })
	_, err = execute(t, "-c", cfgPath, "init")
	require.NoError(t, err)
}

func TestEquipmentCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1", "")

	out, err := execute(t, "-c", cfgPath, "equipment")
	require.NoError(t, err)
	for _, id := range []string{"Ericsson-MMU", "Ericsson-RRU", "Samsung-AUv1", "Samsung-AUv2"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "send_command")
}

func TestProvidersCommand(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeOllama(t, passReply)
	cfgPath := writeConfig(t, dir, srv.URL, "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	out, err := execute(t, "-c", cfgPath, "providers")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	var ollama string
	for _, l := range lines {
		if strings.Contains(l, "ollama") {
			ollama = l
		}
	}
	assert.Contains(t, ollama, "available")
	assert.NotContains(t, ollama, "unavailable")
	assert.Contains(t, out, "anthropic")
	assert.Contains(t, out, "gemini")
}
