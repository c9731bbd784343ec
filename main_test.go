package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/hickeroar/sentibayes/bayes"
	"github.com/hickeroar/sentibayes/internal/config"
	"github.com/hickeroar/sentibayes/internal/store"
)

type fakeServer struct {
	listenErr   error
	shutdownErr error
	listened    atomic.Bool
}

func (f *fakeServer) ListenAndServe() error {
	f.listened.Store(true)
	return f.listenErr
}

func (f *fakeServer) Shutdown(context.Context) error {
	return f.shutdownErr
}

// setupCLI runs the test from an empty directory, isolates configuration and
// captures command output.
func setupCLI(t *testing.T) (dir string, out *bytes.Buffer) {
	t.Helper()

	dir = t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("STORE_SQLITE_PATH", "")

	oldStdout, oldStderr, oldDefault := stdout, stderr, slog.Default()
	out = &bytes.Buffer{}
	stdout = out
	stderr = io.Discard
	t.Cleanup(func() {
		stdout, stderr = oldStdout, oldStderr
		slog.SetDefault(oldDefault)
	})

	return dir, out
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff")))).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return records
}

func onlyFile(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file in %s, got %d", dir, len(entries))
	}
	return filepath.Join(dir, entries[0].Name())
}

func TestRunUsage(t *testing.T) {
	_, out := setupCLI(t)

	if err := run(context.Background(), nil); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for no command, got %v", err)
	}
	if err := run(context.Background(), []string{"bogus"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for unknown command, got %v", err)
	}
	if err := run(context.Background(), []string{"help"}); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !strings.Contains(out.String(), "commands:") {
		t.Fatalf("expected usage text on stdout, got %q", out.String())
	}
}

func TestTrainPredictEvaluateInfo(t *testing.T) {
	dir, out := setupCLI(t)
	ctx := context.Background()
	modelPath := filepath.Join(dir, "model", "naive_bayes.json")
	trainPath := writeFile(t, filepath.Join(dir, "train.csv"), trainingCSV)

	if err := run(ctx, []string{"train", "-model", modelPath, trainPath}); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if !strings.Contains(out.String(), "Trained on 5 documents (1 skipped), vocabulary 7") {
		t.Fatalf("unexpected train output: %q", out.String())
	}

	loaded := bayes.NewClassifier()
	if err := loaded.LoadFromFile(modelPath); err != nil {
		t.Fatalf("load trained model: %v", err)
	}

	inputPath := writeFile(t, filepath.Join(dir, "comments.csv"), "text\ntốt lắm\nrất tệ\n")
	resultDir := filepath.Join(dir, "result")
	out.Reset()
	if err := run(ctx, []string{"predict", "-model", modelPath, "-output-dir", resultDir, inputPath}); err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote 2 predictions") {
		t.Fatalf("unexpected predict output: %q", out.String())
	}

	resultPath := onlyFile(t, resultDir)
	if !strings.HasPrefix(filepath.Base(resultPath), "test_results_") {
		t.Fatalf("unexpected result file name: %s", resultPath)
	}
	records := readCSV(t, resultPath)
	want := [][]string{
		{"text", "label_id", "sentiment"},
		{"tốt lắm", "0", "Positive"},
		{"rất tệ", "2", "Negative"},
	}
	if len(records) != len(want) {
		t.Fatalf("unexpected result rows: %v", records)
	}
	for i := range want {
		if strings.Join(records[i], "|") != strings.Join(want[i], "|") {
			t.Fatalf("row %d: got %v, want %v", i, records[i], want[i])
		}
	}

	evalPath := writeFile(t, filepath.Join(dir, "test.csv"), "text,label\ntốt,0\ntệ,1\nbroken,\n")
	evalDir := filepath.Join(dir, "eval")
	out.Reset()
	if err := run(ctx, []string{"evaluate", "-model", modelPath, "-output-dir", evalDir, evalPath}); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Accuracy: 50.00% on 2 documents") {
		t.Fatalf("unexpected evaluate output: %q", out.String())
	}
	if rows := readCSV(t, onlyFile(t, evalDir)); len(rows) != 3 {
		t.Fatalf("expected header plus 2 evaluation rows, got %d", len(rows))
	}

	out.Reset()
	if err := run(ctx, []string{"info", "-model", modelPath}); err != nil {
		t.Fatalf("info failed: %v", err)
	}
	var info bayes.ModelInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if !info.Trained || info.VocabularySize != 7 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestTrainWithTokenizerFlagsAndGob(t *testing.T) {
	dir, _ := setupCLI(t)
	modelPath := filepath.Join(dir, "model.gob")
	trainPath := writeFile(t, filepath.Join(dir, "train.csv"), "comment,score\nRunning fast,0\nslow walks,2\n")

	args := []string{"train", "-model", modelPath, "-text-column", "comment", "-label-column", "score",
		"-normalization", "nfkc", "-stem-language", "english", trainPath}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	loaded := bayes.NewClassifier()
	if err := loaded.LoadFromFile(modelPath); err != nil {
		t.Fatalf("load gob model: %v", err)
	}
	tokenizer := loaded.Tokenizer()
	if tokenizer.Normalization != "nfkc" || tokenizer.StemLanguage != "english" {
		t.Fatalf("unexpected persisted tokenizer: %+v", tokenizer)
	}
	p, err := loaded.WordProbability("run", bayes.Positive)
	if err != nil {
		t.Fatalf("word probability failed: %v", err)
	}
	if p <= 0.25 {
		t.Fatalf("expected stemmed token to be counted, got probability %v", p)
	}
}

func TestPredictUsesNewestCleanedFile(t *testing.T) {
	dir, out := setupCLI(t)
	ctx := context.Background()
	modelPath := filepath.Join(dir, "model.json")
	trainPath := writeFile(t, filepath.Join(dir, "train.csv"), trainingCSV)
	if err := run(ctx, []string{"train", "-model", modelPath, trainPath}); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	dataDir := filepath.Join(dir, "data")
	old := writeFile(t, filepath.Join(dataDir, "clean_comments_old.csv"), "text\ntốt\n")
	writeFile(t, filepath.Join(dataDir, "clean_comments_new.csv"), "comment\ntệ quá\nrất tệ\nbình thường\n")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	resultDir := filepath.Join(dir, "result")
	args := []string{"predict", "-model", modelPath, "-data-dir", dataDir, "-output-dir", resultDir, "-output-prefix", "run"}
	if err := run(ctx, args); err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote 3 predictions") {
		t.Fatalf("expected newest file to be used, got %q", out.String())
	}
	if !strings.HasPrefix(filepath.Base(onlyFile(t, resultDir)), "run_") {
		t.Fatal("expected result prefix override")
	}
}

func TestPredictRecordsHistory(t *testing.T) {
	dir, _ := setupCLI(t)
	ctx := context.Background()
	historyPath := filepath.Join(dir, "history.db")
	t.Setenv("STORE_SQLITE_PATH", historyPath)

	modelPath := filepath.Join(dir, "model.json")
	trainPath := writeFile(t, filepath.Join(dir, "train.csv"), trainingCSV)
	if err := run(ctx, []string{"train", "-model", modelPath, trainPath}); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	inputPath := writeFile(t, filepath.Join(dir, "in.csv"), "text\ntốt\n")
	if err := run(ctx, []string{"predict", "-model", modelPath, "-output-dir", filepath.Join(dir, "r"), inputPath}); err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if err := run(ctx, []string{"evaluate", "-model", modelPath, "-output-dir", filepath.Join(dir, "r"), trainPath}); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	history, err := store.Open(historyPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer history.Close()

	runs, err := history.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(runs))
	}
	if runs[0].Accuracy == nil || *runs[0].Accuracy != 1 {
		t.Fatalf("expected evaluation run with accuracy 1, got %+v", runs[0])
	}
	if runs[1].Source != inputPath || runs[1].Count != 1 {
		t.Fatalf("unexpected prediction run: %+v", runs[1])
	}
}

func TestCommandErrors(t *testing.T) {
	dir, _ := setupCLI(t)
	ctx := context.Background()
	modelPath := filepath.Join(dir, "model.json")
	trainPath := writeFile(t, filepath.Join(dir, "train.csv"), trainingCSV)
	untrainedPath := writeFile(t, filepath.Join(dir, "bad.csv"), "text,label\na,7\n")
	untrainedModel := filepath.Join(dir, "untrained.json")
	if err := run(ctx, []string{"train", "-model", untrainedModel, untrainedPath}); err != nil {
		t.Fatalf("training on malformed rows should still save a model: %v", err)
	}

	tests := []struct {
		name string
		args []string
		is   error
	}{
		{name: "train without file", args: []string{"train"}, is: errUsage},
		{name: "train extra args", args: []string{"train", "a.csv", "b.csv"}, is: errUsage},
		{name: "train unknown flag", args: []string{"train", "-nope", trainPath}, is: errUsage},
		{name: "train missing file", args: []string{"train", "-model", modelPath, filepath.Join(dir, "missing.csv")}, is: os.ErrNotExist},
		{name: "train bad normalization", args: []string{"train", "-normalization", "nfd", trainPath}},
		{name: "train bad stem language", args: []string{"train", "-model", modelPath, "-stem-language", "klingon", trainPath}},
		{name: "predict missing model", args: []string{"predict", "-model", filepath.Join(dir, "none.json"), trainPath}, is: bayes.ErrPersistence},
		{name: "predict no cleaned file", args: []string{"predict", "-model", modelPath, "-data-dir", filepath.Join(dir, "empty")}},
		{name: "evaluate without file", args: []string{"evaluate"}, is: errUsage},
		{name: "evaluate untrained model", args: []string{"evaluate", "-model", untrainedModel, trainPath}, is: bayes.ErrModelNotTrained},
		{name: "predict untrained model", args: []string{"predict", "-model", untrainedModel, trainPath}, is: bayes.ErrModelNotTrained},
		{name: "info extra args", args: []string{"info", "x"}, is: errUsage},
		{name: "info missing model", args: []string{"info", "-model", filepath.Join(dir, "none.json")}, is: bayes.ErrPersistence},
		{name: "zero workers", args: []string{"predict", "-workers", "0", trainPath}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := run(ctx, tc.args)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v, got %v", tc.is, err)
			}
		})
	}
}

func TestRunMainServeSuccessPath(t *testing.T) {
	setupCLI(t)

	oldRunMain := runMain
	oldMakeSignal := makeSignalChannel
	oldNotify := notifySignals
	oldNewServer := newServer
	oldLogFatal := logFatal
	oldArgs := os.Args
	defer func() {
		runMain = oldRunMain
		makeSignalChannel = oldMakeSignal
		notifySignals = oldNotify
		newServer = oldNewServer
		logFatal = oldLogFatal
		os.Args = oldArgs
	}()

	sigCh := make(chan os.Signal, 1)
	makeSignalChannel = func() chan os.Signal { return sigCh }
	notifySignals = func(chan<- os.Signal, ...os.Signal) {}

	server := &fakeServer{listenErr: http.ErrServerClosed}
	var capturedHandler http.Handler
	var capturedAddr string
	newServer = func(addr string, handler http.Handler, _ config.ServerConfig) httpServer {
		capturedAddr = addr
		capturedHandler = handler
		return server
	}
	logFatal = func(...interface{}) {}

	os.Args = []string{"sentibayes.test", "serve", "--port", "9999", "--auth-token", "secret-token"}

	done := make(chan error, 1)
	go func() {
		done <- runMain()
	}()

	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil runMain error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runMain to exit")
	}

	if capturedHandler == nil {
		t.Fatal("expected handler to be provided to server")
	}
	if capturedAddr != ":9999" {
		t.Fatalf("unexpected listen address: %q", capturedAddr)
	}

	rr := httptest.NewRecorder()
	capturedHandler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/info", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected endpoint to require auth token, got status %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr = httptest.NewRecorder()
	capturedHandler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "sentibayes_model_vocabulary_size") {
		t.Fatalf("expected metrics endpoint, got status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	capturedHandler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready after shutdown, got %d", rr.Code)
	}
}

func TestServeLoadsSavedModel(t *testing.T) {
	dir, _ := setupCLI(t)
	modelPath := filepath.Join(dir, "model.json")
	trainPath := writeFile(t, filepath.Join(dir, "train.csv"), trainingCSV)
	if err := run(context.Background(), []string{"train", "-model", modelPath, trainPath}); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	oldMakeSignal, oldNotify, oldNewServer := makeSignalChannel, notifySignals, newServer
	defer func() {
		makeSignalChannel, notifySignals, newServer = oldMakeSignal, oldNotify, oldNewServer
	}()

	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGINT
	makeSignalChannel = func() chan os.Signal { return sigCh }
	notifySignals = func(chan<- os.Signal, ...os.Signal) {}
	var capturedHandler http.Handler
	newServer = func(_ string, handler http.Handler, _ config.ServerConfig) httpServer {
		capturedHandler = handler
		return &fakeServer{listenErr: http.ErrServerClosed}
	}

	if err := run(context.Background(), []string{"serve", "-model", modelPath}); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	rr := httptest.NewRecorder()
	capturedHandler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader("rất tệ")))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"sentiment":"Negative"`) {
		t.Fatalf("expected served model to classify, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestServeRejectsCorruptModel(t *testing.T) {
	dir, _ := setupCLI(t)
	modelPath := writeFile(t, filepath.Join(dir, "model.json"), "{not json")

	err := run(context.Background(), []string{"serve", "-model", modelPath})
	if !errors.Is(err, bayes.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestMainHandlesRunError(t *testing.T) {
	oldRunMain := runMain
	oldLogFatal := logFatal
	defer func() {
		runMain = oldRunMain
		logFatal = oldLogFatal
	}()

	expectedErr := errors.New("boom")
	runMain = func() error { return expectedErr }

	called := false
	logFatal = func(v ...interface{}) {
		called = true
		if len(v) != 1 {
			t.Fatalf("unexpected fatal args: %v", v)
		}
		if !errors.Is(v[0].(error), expectedErr) {
			t.Fatalf("unexpected fatal error: %v", v[0])
		}
	}

	main()
	if !called {
		t.Fatal("expected main to call logFatal on error")
	}
}
