package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hickeroar/sentibayes/bayes"
)

// TimestampLayout is the time format embedded in result file names.
const TimestampLayout = "2006-01-02_15-04-05"

const maxNameAttempts = 5

// Header is the column header of a prediction file.
var Header = []string{"text", "label_id", "sentiment"}

var newSuffix = func() string { return uuid.NewString()[:8] }

// WritePredictions writes predictions as CSV, optionally preceded by a UTF-8 BOM.
func WritePredictions(w io.Writer, predictions []bayes.Prediction, bom bool) error {
	if bom {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range predictions {
		if err := cw.Write([]string{p.Text, strconv.Itoa(int(p.Label)), p.Sentiment}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ResultWriter writes prediction batches to uniquely named files.
type ResultWriter struct {
	Dir    string
	Prefix string
	BOM    bool
	Clock  clockwork.Clock
}

// NewResultWriter returns a ResultWriter using the real clock.
func NewResultWriter(dir, prefix string, bom bool) *ResultWriter {
	return &ResultWriter{
		Dir:    dir,
		Prefix: prefix,
		BOM:    bom,
		Clock:  clockwork.NewRealClock(),
	}
}

// Write stores predictions in <Dir>/<Prefix>_<timestamp>.csv and returns the
// path. An existing file is never overwritten; a random suffix is added instead.
func (rw *ResultWriter) Write(predictions []bayes.Prediction) (string, error) {
	if err := os.MkdirAll(rw.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create result dir: %w", err)
	}

	base := rw.Prefix + "_" + rw.Clock.Now().Format(TimestampLayout)
	name := base + ".csv"

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(rw.Dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			name = base + "_" + newSuffix() + ".csv"
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create result file: %w", err)
		}

		if err := WritePredictions(f, predictions, rw.BOM); err != nil {
			f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close result file: %w", err)
		}
		return path, nil
	}

	return "", fmt.Errorf("create result file: no free name for %s", base)
}
