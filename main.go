package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hickeroar/sentibayes/bayes"
	"github.com/hickeroar/sentibayes/dataset"
	"github.com/hickeroar/sentibayes/internal/config"
	"github.com/hickeroar/sentibayes/internal/logging"
	"github.com/hickeroar/sentibayes/internal/metrics"
	"github.com/hickeroar/sentibayes/internal/store"
)

const usage = `usage: sentibayes <command> [flags] [file]

commands:
  train <csv>       train a model from a labelled CSV file and save it
  predict [csv]     predict sentiment for a CSV of comments (default: newest cleaned file)
  evaluate <csv>    report accuracy of the saved model on a labelled CSV file
  info              print statistics of the saved model
  serve             serve the classifier over HTTP

Configuration is read from CONFIG_PATH (default ./config.yaml), .env and the environment.
Run "sentibayes <command> -h" for command flags.
`

var errUsage = errors.New("usage")

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	makeSignalChannel = func() chan os.Signal { return make(chan os.Signal, 1) }
	notifySignals     = func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
	newServer         = func(addr string, handler http.Handler, cfg config.ServerConfig) httpServer {
		return &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		}
	}
	logFatal = func(v ...interface{}) { log.Fatal(v...) }
	runMain  = func() error {
		return run(context.Background(), os.Args[1:])
	}
)

// app carries what every command needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.ClassifierMetrics
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w: missing command", errUsage)
	}

	command, rest := args[0], args[1:]
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Fprint(stdout, usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, _ := logging.WithRun(logging.New(cfg.Log, stderr))
	registry := metrics.NewRegistry()
	a := &app{
		cfg:      cfg,
		logger:   logger.With(slog.String("command", command)),
		registry: registry,
		metrics:  metrics.NewClassifierMetrics(registry),
	}

	switch command {
	case "train":
		return a.train(rest)
	case "predict":
		return a.predict(ctx, rest)
	case "evaluate":
		return a.evaluate(ctx, rest)
	case "info":
		return a.info(rest)
	case "serve":
		return a.serve(rest)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func (a *app) flagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&a.cfg.Model.Path, "model", a.cfg.Model.Path, "Model file; .gob selects the binary format.")
	return flags
}

func (a *app) columnFlags(flags *flag.FlagSet) {
	flags.StringVar(&a.cfg.Dataset.TextColumn, "text-column", a.cfg.Dataset.TextColumn, "Name of the text column.")
	flags.StringVar(&a.cfg.Dataset.LabelColumn, "label-column", a.cfg.Dataset.LabelColumn, "Name of the label column.")
}

func (a *app) outputFlags(flags *flag.FlagSet) {
	flags.IntVar(&a.cfg.Workers, "workers", a.cfg.Workers, "Number of prediction workers.")
	flags.StringVar(&a.cfg.Output.Dir, "output-dir", a.cfg.Output.Dir, "Directory for prediction result files.")
	flags.StringVar(&a.cfg.Output.Prefix, "output-prefix", a.cfg.Output.Prefix, "File name prefix for prediction results.")
}

// parse parses args and re-validates the configuration with flag overrides applied.
func (a *app) parse(flags *flag.FlagSet, args []string, maxArgs int) error {
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if flags.NArg() > maxArgs {
		return fmt.Errorf("%w: %s: unexpected arguments %v", errUsage, flags.Name(), flags.Args()[maxArgs:])
	}
	return a.cfg.Validate()
}

func (a *app) columns() dataset.Columns {
	return dataset.Columns{Text: a.cfg.Dataset.TextColumn, Label: a.cfg.Dataset.LabelColumn}
}

func (a *app) loadClassifier() (*bayes.Classifier, error) {
	classifier := bayes.NewClassifier()
	if err := classifier.LoadFromFile(a.cfg.Model.Path); err != nil {
		return nil, err
	}
	a.metrics.SetVocabularySize(classifier.Info().VocabularySize)
	a.logger.Info("model loaded", slog.String("path", a.cfg.Model.Path))
	return classifier, nil
}

// openHistory returns nil when no history database is configured.
func (a *app) openHistory() (*store.Store, error) {
	if a.cfg.Store.SQLitePath == "" {
		return nil, nil
	}
	history, err := store.Open(a.cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open prediction history: %w", err)
	}
	return history, nil
}

func (a *app) record(ctx context.Context, source string, predictions []bayes.Prediction, accuracy *float64) error {
	history, err := a.openHistory()
	if err != nil || history == nil {
		return err
	}
	defer history.Close()

	saved, err := history.SaveRun(ctx, source, predictions, accuracy)
	if err != nil {
		return fmt.Errorf("record prediction run: %w", err)
	}
	a.logger.Info("prediction run recorded", slog.String("run", saved.ID), slog.Int("rows", saved.Count))
	return nil
}

func (a *app) predictBatch(ctx context.Context, classifier *bayes.Classifier, texts []string) ([]bayes.Prediction, error) {
	start := time.Now()
	predictions, err := classifier.PredictParallel(ctx, texts, a.cfg.Workers)
	if err != nil {
		return nil, err
	}
	a.metrics.ObservePredictions(predictions, time.Since(start))
	logDistribution(a.logger, predictions)
	return predictions, nil
}

func (a *app) writeResults(predictions []bayes.Prediction) (string, error) {
	writer := dataset.NewResultWriter(a.cfg.Output.Dir, a.cfg.Output.Prefix, a.cfg.Output.WriteBOM())
	path, err := writer.Write(predictions)
	if err != nil {
		return "", err
	}
	a.logger.Info("predictions written", slog.String("path", path), slog.Int("rows", len(predictions)))
	return path, nil
}

func (a *app) train(args []string) error {
	flags := a.flagSet("train")
	a.columnFlags(flags)
	flags.StringVar(&a.cfg.Model.Normalization, "normalization", a.cfg.Model.Normalization, "Unicode normalization applied before tokenizing: nfc or nfkc.")
	flags.StringVar(&a.cfg.Model.StemLanguage, "stem-language", a.cfg.Model.StemLanguage, "Snowball stemmer language; empty disables stemming.")
	if err := a.parse(flags, args, 1); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("%w: train requires a CSV file", errUsage)
	}
	input := flags.Arg(0)

	tokenizer := bayes.Tokenizer{
		Normalization: a.cfg.Model.Normalization,
		StemLanguage:  a.cfg.Model.StemLanguage,
	}
	if err := tokenizer.Validate(); err != nil {
		return err
	}

	set, err := dataset.ReadLabeledFile(input, a.columns())
	if err != nil {
		return err
	}
	logSkipped(a.logger, set.Skipped)

	classifier := bayes.NewClassifier(bayes.WithTokenizer(tokenizer))
	report, err := classifier.Train(set.Texts, set.Labels)
	if err != nil {
		return err
	}
	report.Skipped = append(set.Skipped, report.Skipped...)
	a.metrics.ObserveTraining(report)
	logTraining(a.logger, report)
	if !classifier.Trained() {
		a.logger.Warn("no usable training rows, saving an untrained model", slog.String("input", input))
	}

	if err := classifier.SaveToFile(a.cfg.Model.Path); err != nil {
		return err
	}
	a.logger.Info("model saved", slog.String("path", a.cfg.Model.Path))

	fmt.Fprintf(stdout, "Trained on %d documents (%d skipped), vocabulary %d. Model saved to %s\n",
		report.Documents, len(report.Skipped), report.VocabularySize, a.cfg.Model.Path)
	return nil
}

func (a *app) predict(ctx context.Context, args []string) error {
	flags := a.flagSet("predict")
	flags.StringVar(&a.cfg.Dataset.TextColumn, "text-column", a.cfg.Dataset.TextColumn, "Name of the text column; falls back to the first column.")
	flags.StringVar(&a.cfg.Dataset.DataDir, "data-dir", a.cfg.Dataset.DataDir, "Directory searched for the newest cleaned comment file.")
	a.outputFlags(flags)
	if err := a.parse(flags, args, 1); err != nil {
		return err
	}

	input := flags.Arg(0)
	if input == "" {
		latest, err := dataset.LatestFile(a.cfg.Dataset.DataDir, a.cfg.Dataset.CleanPattern)
		if err != nil {
			return err
		}
		input = latest
		a.logger.Info("using newest cleaned file", slog.String("input", input))
	}

	classifier, err := a.loadClassifier()
	if err != nil {
		return err
	}

	texts, err := dataset.ReadTextsFile(input, a.cfg.Dataset.TextColumn)
	if err != nil {
		return err
	}

	predictions, err := a.predictBatch(ctx, classifier, texts)
	if err != nil {
		return err
	}

	path, err := a.writeResults(predictions)
	if err != nil {
		return err
	}
	if err := a.record(ctx, input, predictions, nil); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote %d predictions to %s\n", len(predictions), path)
	return nil
}

func (a *app) evaluate(ctx context.Context, args []string) error {
	flags := a.flagSet("evaluate")
	a.columnFlags(flags)
	a.outputFlags(flags)
	if err := a.parse(flags, args, 1); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("%w: evaluate requires a CSV file", errUsage)
	}
	input := flags.Arg(0)

	classifier, err := a.loadClassifier()
	if err != nil {
		return err
	}
	if !classifier.Trained() {
		return bayes.ErrModelNotTrained
	}

	set, err := dataset.ReadLabeledFile(input, a.columns())
	if err != nil {
		return err
	}
	logSkipped(a.logger, set.Skipped)

	predictions, err := a.predictBatch(ctx, classifier, set.Texts)
	if err != nil {
		return err
	}

	accuracy, err := classifier.Evaluate(predictions, set.Labels)
	if err != nil {
		return err
	}
	a.metrics.ObserveAccuracy(accuracy)
	a.logger.Info("evaluation finished",
		slog.Float64("accuracy", accuracy),
		slog.Int("documents", len(predictions)),
		slog.Int("skipped", len(set.Skipped)),
	)

	path, err := a.writeResults(predictions)
	if err != nil {
		return err
	}
	if err := a.record(ctx, input, predictions, &accuracy); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Accuracy: %.2f%% on %d documents. Predictions written to %s\n", accuracy*100, len(predictions), path)
	return nil
}

func (a *app) info(args []string) error {
	flags := a.flagSet("info")
	if err := a.parse(flags, args, 0); err != nil {
		return err
	}

	classifier, err := a.loadClassifier()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(classifier.Info())
}

func (a *app) serve(args []string) error {
	flags := a.flagSet("serve")
	flags.StringVar(&a.cfg.Server.Port, "port", a.cfg.Server.Port, "The port the server should listen on.")
	flags.StringVar(&a.cfg.Server.AuthToken, "auth-token", a.cfg.Server.AuthToken, "Bearer token required on API routes; empty disables auth.")
	flags.IntVar(&a.cfg.Workers, "workers", a.cfg.Workers, "Number of prediction workers.")
	a.columnFlags(flags)
	if err := a.parse(flags, args, 0); err != nil {
		return err
	}

	classifier, err := a.loadClassifier()
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("no saved model, starting untrained", slog.String("path", a.cfg.Model.Path))
		classifier = bayes.NewClassifier()
	} else if err != nil {
		return err
	}

	history, err := a.openHistory()
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	controller := &ClassifierAPI{
		classifier:   classifier,
		columns:      a.columns(),
		modelPath:    a.cfg.Model.Path,
		workers:      a.cfg.Workers,
		maxBodyBytes: a.cfg.Server.MaxBodyBytes,
		logger:       a.logger,
		metrics:      a.metrics,
		httpMetrics:  metrics.NewHTTPMetrics(a.registry),
		registry:     a.registry,
		history:      history,
	}
	controller.ready.Store(true)

	mux := http.NewServeMux()
	controller.RegisterRoutes(mux)

	server := newServer(":"+a.cfg.Server.Port, withAuthorizationToken(mux, a.cfg.Server.AuthToken), a.cfg.Server)
	a.logger.Info("server listening", slog.String("port", a.cfg.Server.Port), slog.Bool("auth", a.cfg.Server.AuthToken != ""))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal(err)
		}
	}()

	sigCh := makeSignalChannel()
	notifySignals(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	controller.ready.Store(false)
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	return server.Shutdown(ctx)
}

func logSkipped(logger *slog.Logger, skipped []bayes.MalformedRowError) {
	for _, row := range skipped {
		logger.Warn("skipping malformed row",
			slog.Int("row", row.Row),
			slog.String("value", row.Value),
			slog.String("reason", row.Reason),
		)
	}
}

func logTraining(logger *slog.Logger, report bayes.TrainingReport) {
	logger.Info("training finished",
		slog.Int("documents", report.Documents),
		slog.Int("positive", report.ClassDocuments[bayes.Positive]),
		slog.Int("neutral", report.ClassDocuments[bayes.Neutral]),
		slog.Int("negative", report.ClassDocuments[bayes.Negative]),
		slog.Int("vocabulary", report.VocabularySize),
		slog.Int("skipped", len(report.Skipped)),
	)
}

func logDistribution(logger *slog.Logger, predictions []bayes.Prediction) {
	var counts [bayes.NumLabels]int
	for _, p := range predictions {
		counts[p.Label]++
	}
	logger.Info("prediction distribution",
		slog.Int("positive", counts[bayes.Positive]),
		slog.Int("neutral", counts[bayes.Neutral]),
		slog.Int("negative", counts[bayes.Negative]),
	)
}

func main() {
	if err := runMain(); err != nil {
		logFatal(err)
	}
}
