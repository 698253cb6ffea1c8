package report

import (
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders v the way the simulator's own reports do: integral values
// keep a ".0" suffix and very small or large magnitudes use "1.5E-4" notation.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	abs := math.Abs(v)
	if abs == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsRune(s, '.') {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(v, 'E', -1, 64)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.ContainsRune(mant, '.') {
		mant += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(e)
}

func appendRow(buf []byte, first string, values []string) []byte {
	buf = append(buf, first...)
	for _, v := range values {
		buf = append(buf, ", "...)
		buf = append(buf, v...)
	}
	return append(buf, '\n')
}
