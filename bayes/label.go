package bayes

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Label identifies one of the three sentiment classes.
type Label int

const (
	Positive Label = iota
	Neutral
	Negative
)

// NumLabels is the number of sentiment classes.
const NumLabels = 3

// Labels lists every label in id order.
var Labels = [NumLabels]Label{Positive, Neutral, Negative}

var labelNames = [NumLabels]string{
	Positive: "Positive",
	Neutral:  "Neutral",
	Negative: "Negative",
}

// Valid reports whether l is one of the three known labels.
func (l Label) Valid() bool {
	return l >= Positive && l <= Negative
}

// String returns the display name of the label.
func (l Label) String() string {
	if l.Valid() {
		return labelNames[l]
	}
	return fmt.Sprintf("Label(%d)", int(l))
}

// ParseLabel parses a raw label cell. Integral numeric values such as "2" and
// "2.0" are accepted; anything else, including NaN, is rejected.
func ParseLabel(raw string) (Label, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty label")
	}

	if n, err := strconv.Atoi(raw); err == nil {
		return labelFromInt(n)
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric label %q", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("non-integral label %q", raw)
	}

	return labelFromInt(int(f))
}

func labelFromInt(n int) (Label, error) {
	l := Label(n)
	if !l.Valid() {
		return 0, fmt.Errorf("label %d out of range", n)
	}
	return l, nil
}
