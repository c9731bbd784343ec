// Package dataset reads labelled and unlabelled comment tables and writes
// prediction results as CSV.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hickeroar/sentibayes/bayes"
)

const utf8BOM = "\ufeff"

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing column")

// Columns names the text and label columns of a training table.
type Columns struct {
	Text  string
	Label string
}

// LabeledSet is a training or evaluation table after malformed rows were dropped.
type LabeledSet struct {
	Texts   []string
	Labels  []int
	Skipped []bayes.MalformedRowError
}

// Len returns the number of kept rows.
func (s *LabeledSet) Len() int {
	return len(s.Texts)
}

// ReadLabeled reads a table with a header row. Rows whose label is missing,
// non-numeric or outside the known classes are dropped and reported in Skipped.
func ReadLabeled(r io.Reader, cols Columns) (*LabeledSet, error) {
	reader := newCSVReader(r)
	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	textIdx, err := columnIndex(header, cols.Text)
	if err != nil {
		return nil, err
	}
	labelIdx, err := columnIndex(header, cols.Label)
	if err != nil {
		return nil, err
	}

	set := &LabeledSet{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if textIdx >= len(record) || labelIdx >= len(record) {
			set.Skipped = append(set.Skipped, bayes.MalformedRowError{
				Row:    line,
				Value:  strings.Join(record, ","),
				Reason: "row has too few columns",
			})
			continue
		}

		label, err := bayes.ParseLabel(record[labelIdx])
		if err != nil {
			set.Skipped = append(set.Skipped, bayes.MalformedRowError{
				Row:    line,
				Value:  record[labelIdx],
				Reason: err.Error(),
			})
			continue
		}

		set.Texts = append(set.Texts, record[textIdx])
		set.Labels = append(set.Labels, int(label))
	}

	return set, nil
}

// ReadLabeledFile is ReadLabeled over a file.
func ReadLabeledFile(path string, cols Columns) (*LabeledSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadLabeled(f, cols)
}

// ReadTexts reads one text per row from column. When the column is empty or
// absent from the header the first column is used.
func ReadTexts(r io.Reader, column string) ([]string, error) {
	reader := newCSVReader(r)
	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	idx, err := columnIndex(header, column)
	if err != nil {
		idx = 0
	}

	var texts []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx < len(record) {
			texts = append(texts, record[idx])
		} else {
			texts = append(texts, "")
		}
	}

	return texts, nil
}

// ReadTextsFile is ReadTexts over a file.
func ReadTextsFile(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadTexts(f, column)
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	return reader
}

func readHeader(reader *csv.Reader) ([]string, error) {
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	return header, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrMissingColumn, name)
}
