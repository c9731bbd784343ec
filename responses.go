package main

import (
	"github.com/hickeroar/sentibayes/bayes"
	"github.com/hickeroar/sentibayes/internal/store"
)

// StandardResponse reports success along with the resulting model state.
type StandardResponse struct {
	Success bool            `json:"success"`
	Model   bayes.ModelInfo `json:"model"`
}

// NewStandardResponse gets an assembled instance of StandardResponse.
func NewStandardResponse(classifier *bayes.Classifier, success bool) StandardResponse {
	return StandardResponse{
		Success: success,
		Model:   classifier.Info(),
	}
}

// TrainResponse summarizes a training request.
type TrainResponse struct {
	Success        bool                      `json:"success"`
	Documents      int                       `json:"documents"`
	ClassDocuments map[string]int            `json:"class_documents"`
	VocabularySize int                       `json:"vocabulary_size"`
	Skipped        []bayes.MalformedRowError `json:"skipped"`
}

// NewTrainResponse builds a TrainResponse from a training report.
func NewTrainResponse(report bayes.TrainingReport) TrainResponse {
	classes := make(map[string]int, bayes.NumLabels)
	for _, l := range bayes.Labels {
		classes[l.String()] = report.ClassDocuments[l]
	}

	skipped := report.Skipped
	if skipped == nil {
		skipped = []bayes.MalformedRowError{}
	}

	return TrainResponse{
		Success:        true,
		Documents:      report.Documents,
		ClassDocuments: classes,
		VocabularySize: report.VocabularySize,
		Skipped:        skipped,
	}
}

// PredictRequest is the body of a prediction request.
type PredictRequest struct {
	Documents []string `json:"documents"`
}

// PredictResponse lists one prediction per requested document.
type PredictResponse struct {
	Predictions []bayes.Prediction `json:"predictions"`
	RunID       string             `json:"run_id,omitempty"`
}

// EvaluateRequest pairs documents with their true label ids.
type EvaluateRequest struct {
	Documents []string `json:"documents"`
	Labels    []int    `json:"labels"`
}

// EvaluateResponse reports the accuracy of an evaluation request.
type EvaluateResponse struct {
	Accuracy  float64 `json:"accuracy"`
	Documents int     `json:"documents"`
	RunID     string  `json:"run_id,omitempty"`
}

type SaveResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

type RunsResponse struct {
	Runs []store.Run `json:"runs"`
}

type RunResponse struct {
	Run         store.Run          `json:"run"`
	Predictions []bayes.Prediction `json:"predictions"`
}
