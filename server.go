package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hickeroar/sentibayes/bayes"
	"github.com/hickeroar/sentibayes/dataset"
	"github.com/hickeroar/sentibayes/internal/metrics"
	"github.com/hickeroar/sentibayes/internal/store"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MiB
	defaultRunsLimit    = 50
	authRealm           = `Bearer realm="sentibayes"`
)

var runIDPattern = regexp.MustCompile(`^[-0-9A-Fa-f]+$`)

// ClassifierAPI serves the sentiment classifier over HTTP.
type ClassifierAPI struct {
	classifier   *bayes.Classifier
	columns      dataset.Columns
	modelPath    string
	workers      int
	maxBodyBytes int64

	logger      *slog.Logger
	metrics     *metrics.ClassifierMetrics
	httpMetrics *metrics.HTTPMetrics
	registry    *prometheus.Registry
	history     *store.Store

	ready atomic.Bool
}

// RegisterRoutes registers all API routes on the provided ServeMux.
func (c *ClassifierAPI) RegisterRoutes(mux *http.ServeMux) {
	c.handle(mux, "/info", c.InfoHandler)
	c.handle(mux, "/train", c.TrainHandler)
	c.handle(mux, "/predict", c.PredictHandler)
	c.handle(mux, "/classify", c.ClassifyHandler)
	c.handle(mux, "/evaluate", c.EvaluateHandler)
	c.handle(mux, "/save", c.SaveHandler)
	c.handle(mux, "/flush", c.FlushHandler)
	c.handle(mux, "/runs", c.RunsHandler)
	c.handle(mux, "/runs/", c.RunHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	mux.HandleFunc("/readyz", c.ReadyHandler)
	if c.registry != nil {
		mux.Handle("/metrics", metrics.Handler(c.registry))
	}
}

func (c *ClassifierAPI) handle(mux *http.ServeMux, route string, handler http.HandlerFunc) {
	if c.httpMetrics == nil {
		mux.Handle(route, handler)
		return
	}
	mux.Handle(route, c.httpMetrics.Wrap(route, handler))
}

func (c *ClassifierAPI) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// withAuthorizationToken requires a bearer token on every route except the
// health and readiness probes. An empty token disables the check.
func withAuthorizationToken(next http.Handler, token string) http.Handler {
	if token == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/healthz" || req.URL.Path == "/readyz" {
			next.ServeHTTP(w, req)
			return
		}

		provided, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", authRealm)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	jsonResponse, err := json.Marshal(value)
	if err != nil {
		http.Error(w, `{"error":"failed to marshal response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonResponse); err != nil {
		slog.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeClassifierError maps classifier errors to HTTP statuses.
func writeClassifierError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bayes.ErrModelNotTrained):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bayes.ErrInputShape), errors.Is(err, bayes.ErrNoPredictions):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (c *ClassifierAPI) bodyLimit() int64 {
	if c.maxBodyBytes > 0 {
		return c.maxBodyBytes
	}
	return maxRequestBodyBytes
}

func (c *ClassifierAPI) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	req.Body = http.MaxBytesReader(w, req.Body, c.bodyLimit())
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return nil, false
	}

	return body, true
}

func (c *ClassifierAPI) decodeBody(w http.ResponseWriter, req *http.Request, dst interface{}) bool {
	body, ok := c.readBody(w, req)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func runIDFromPath(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}

	if !runIDPattern.MatchString(id) {
		return "", false
	}

	return id, true
}

func requireMethod(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// predict runs a batch through the classifier and records it.
func (c *ClassifierAPI) predict(ctx context.Context, documents []string) ([]bayes.Prediction, error) {
	start := time.Now()
	predictions, err := c.classifier.PredictParallel(ctx, documents, c.workers)
	if err != nil {
		return nil, err
	}
	c.metrics.ObservePredictions(predictions, time.Since(start))
	return predictions, nil
}

// record stores a batch in the history when one is configured.
func (c *ClassifierAPI) record(ctx context.Context, source string, predictions []bayes.Prediction, accuracy *float64) string {
	if c.history == nil {
		return ""
	}
	run, err := c.history.SaveRun(ctx, source, predictions, accuracy)
	if err != nil {
		c.log().Error("record prediction run", slog.String("error", err.Error()))
		return ""
	}
	return run.ID
}

// InfoHandler returns the current model statistics.
func (c *ClassifierAPI) InfoHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, c.classifier.Info())
}

// TrainHandler replaces the model with one trained on a CSV request body.
func (c *ClassifierAPI) TrainHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	body, ok := c.readBody(w, req)
	if !ok {
		return
	}

	set, err := dataset.ReadLabeled(strings.NewReader(string(body)), c.columns)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logSkipped(c.log(), set.Skipped)

	report, err := c.classifier.Train(set.Texts, set.Labels)
	if err != nil {
		writeClassifierError(w, err)
		return
	}
	report.Skipped = append(set.Skipped, report.Skipped...)
	c.metrics.ObserveTraining(report)
	logTraining(c.log(), report)

	writeJSON(w, http.StatusOK, NewTrainResponse(report))
}

// PredictHandler classifies a JSON list of documents.
func (c *ClassifierAPI) PredictHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var request PredictRequest
	if !c.decodeBody(w, req, &request) {
		return
	}

	predictions, err := c.predict(req.Context(), request.Documents)
	if err != nil {
		writeClassifierError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		Predictions: predictions,
		RunID:       c.record(req.Context(), "api", predictions, nil),
	})
}

// ClassifyHandler classifies the raw request body and returns per-class scores.
func (c *ClassifierAPI) ClassifyHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	body, ok := c.readBody(w, req)
	if !ok {
		return
	}

	result, err := c.classifier.Classify(string(body))
	if err != nil {
		writeClassifierError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// EvaluateHandler predicts labelled documents and reports accuracy.
func (c *ClassifierAPI) EvaluateHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	var request EvaluateRequest
	if !c.decodeBody(w, req, &request) {
		return
	}
	if !c.classifier.Trained() {
		writeClassifierError(w, bayes.ErrModelNotTrained)
		return
	}
	if len(request.Documents) != len(request.Labels) {
		writeError(w, http.StatusBadRequest, bayes.ErrInputShape.Error())
		return
	}

	predictions, err := c.predict(req.Context(), request.Documents)
	if err != nil {
		writeClassifierError(w, err)
		return
	}

	accuracy, err := c.classifier.Evaluate(predictions, request.Labels)
	if err != nil {
		writeClassifierError(w, err)
		return
	}
	c.metrics.ObserveAccuracy(accuracy)

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Accuracy:  accuracy,
		Documents: len(predictions),
		RunID:     c.record(req.Context(), "api:evaluate", predictions, &accuracy),
	})
}

// SaveHandler writes the current model to the configured path.
func (c *ClassifierAPI) SaveHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	if err := c.classifier.SaveToFile(c.modelPath); err != nil {
		c.log().Error("save model", slog.String("path", c.modelPath), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SaveResponse{Success: true, Path: c.modelPath})
}

// FlushHandler deletes all training data and gives us a fresh slate.
func (c *ClassifierAPI) FlushHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) {
		return
	}

	c.classifier.Flush()
	c.metrics.SetVocabularySize(0)

	writeJSON(w, http.StatusOK, NewStandardResponse(c.classifier, true))
}

// RunsHandler lists recorded prediction runs, newest first.
func (c *ClassifierAPI) RunsHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	if c.history == nil {
		writeJSON(w, http.StatusOK, RunsResponse{Runs: []store.Run{}})
		return
	}

	runs, err := c.history.Runs(req.Context(), defaultRunsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// RunHandler returns one recorded run with its predictions.
func (c *ClassifierAPI) RunHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}

	id, ok := runIDFromPath(req.URL.Path, "/runs/")
	if !ok || c.history == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	run, err := c.history.Run(req.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	predictions, err := c.history.Predictions(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if predictions == nil {
		predictions = []bayes.Prediction{}
	}

	writeJSON(w, http.StatusOK, RunResponse{Run: run, Predictions: predictions})
}

// HealthHandler returns liveness status for process health checks.
func HealthHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler returns readiness status for traffic checks.
func (c *ClassifierAPI) ReadyHandler(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) {
		return
	}
	if !c.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
