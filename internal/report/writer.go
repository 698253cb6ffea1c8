package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/logging"
	"mode-calibrator/internal/trips"
)

const (
	FileConstants   = "coefficient_values.csv"
	FileShares      = "hbw_modeshare.csv"
	FileBoardings   = "transitline_boardings.csv"
	FilePurposeMode = "trip_purpose_mode.json"
	FileTravelTimes = "travel_time_bins.csv"
)

// OutputDir resolves report names inside a run's output directory.
type OutputDir struct {
	Dir string
}

func (d OutputDir) Filename(name string) string {
	return filepath.Join(d.Dir, name)
}

type series struct {
	f *os.File
	w *bufio.Writer
}

func createSeries(path string) (*series, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &series{f: f, w: bufio.NewWriter(f)}, nil
}

// writeLine writes b and flushes so every finished iteration is on disk.
func (s *series) writeLine(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *series) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// Writer implements calibration.Reports on plain files.
type Writer struct {
	dir       OutputDir
	binLabels []int
	modes     []string

	constants *series
	shares    *series

	// purposeModes holds the encoded purpose -> mode -> count object of each
	// iteration; purposeOrder keeps its keys sorted.
	purposeModes map[int][]byte
	purposeOrder []int

	logger *slog.Logger
}

// NewWriter creates the output directory and opens the per-iteration series.
// binLabels are the lower bounds in minutes of the travel-time bins.
func NewWriter(dir OutputDir, binLabels []int, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	constants, err := createSeries(dir.Filename(FileConstants))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", FileConstants, err)
	}
	shares, err := createSeries(dir.Filename(FileShares))
	if err != nil {
		constants.Close()
		return nil, fmt.Errorf("create %s: %w", FileShares, err)
	}
	return &Writer{
		dir:          dir,
		binLabels:    slices.Clone(binLabels),
		constants:    constants,
		shares:       shares,
		purposeModes: make(map[int][]byte),
		logger:       logging.OrDefault(logger),
	}, nil
}

func (w *Writer) WriteHeaders(modes []string) error {
	w.modes = slices.Clone(modes)
	header := appendRow(nil, "Iteration", modes)
	if err := w.constants.writeLine(header); err != nil {
		return fmt.Errorf("%s: %w", FileConstants, err)
	}
	if err := w.shares.writeLine(header); err != nil {
		return fmt.Errorf("%s: %w", FileShares, err)
	}
	return nil
}

// WriteIteration appends the constants and shares rows and rewrites the
// purpose×mode document so it stays valid JSON after every iteration. A failing file does not keep the others from being
// written.
func (w *Writer) WriteIteration(r calibration.IterationResult) error {
	var errs []error
	it := strconv.Itoa(r.Iteration)
	if err := w.constants.writeLine(appendRow(nil, it, w.column(r.Constants))); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FileConstants, err))
	}
	if err := w.shares.writeLine(appendRow(nil, it, w.column(r.Shares))); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FileShares, err))
	}

	if err := w.writePurposeModes(r.Iteration, r.Trips.Modes.Labeled()); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FilePurposeMode, err))
	}
	return errors.Join(errs...)
}

// column lays values out in header order; absent modes are 0.0.
func (w *Writer) column(values map[string]float64) []string {
	out := make([]string, len(w.modes))
	for i, m := range w.modes {
		out[i] = FormatFloat(values[m])
	}
	return out
}

// writePurposeModes records the table of iteration and rewrites the whole
// document. Earlier iterations are encoded once and reused.
func (w *Writer) writePurposeModes(iteration int, table map[string]map[string]int) error {
	doc, err := json.Marshal(table)
	if err != nil {
		return err
	}
	if pos, found := slices.BinarySearch(w.purposeOrder, iteration); !found {
		w.purposeOrder = slices.Insert(w.purposeOrder, pos, iteration)
	}
	w.purposeModes[iteration] = doc

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, it := range w.purposeOrder {
		fmt.Fprintf(&buf, "  %q: %s", strconv.Itoa(it), w.purposeModes[it])
		if i < len(w.purposeOrder)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return writeFileAtomic(w.dir.Filename(FilePurposeMode), buf.Bytes())
}

// WriteFinal writes the boardings summary and the travel-time histogram of the
// last iteration.
func (w *Writer) WriteFinal(r calibration.IterationResult) error {
	var errs []error
	if err := writeFileAtomic(w.dir.Filename(FileBoardings), boardingsCSV(r.Boardings.Lines)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FileBoardings, err))
	}
	if err := writeFileAtomic(w.dir.Filename(FileTravelTimes), w.travelTimesCSV(r.Trips.TravelTimes)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FileTravelTimes, err))
	}
	w.logger.Info("final reports written", "dir", w.dir.Dir, "lines", len(r.Boardings.Lines), "boardings", r.Boardings.Total)
	return errors.Join(errs...)
}

func boardingsCSV(lines map[string]int) []byte {
	ids := make([]string, 0, len(lines))
	for id := range lines {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	buf := []byte("TransitLine, Boardings\n")
	for _, id := range ids {
		buf = appendRow(buf, id, []string{strconv.Itoa(lines[id])})
	}
	return buf
}

func (w *Writer) travelTimesCSV(h trips.TravelTimeHistogram) []byte {
	labels := make([]string, len(w.binLabels))
	for i, l := range w.binLabels {
		labels[i] = strconv.Itoa(l)
	}
	buf := appendRow(nil, "Purpose", labels)
	for _, p := range trips.Purposes {
		buf = append(buf, p.String()...)
		counts := h[p]
		if len(counts) < len(w.binLabels) {
			counts = append(slices.Clone(counts), make([]int, len(w.binLabels)-len(counts))...)
		}
		buf = trips.AppendCounts(buf, counts)
		buf = append(buf, '\n')
	}
	return buf
}

func (w *Writer) Close() error {
	var errs []error
	if err := w.constants.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", FileConstants, err))
	}
	if err := w.shares.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", FileShares, err))
	}
	return errors.Join(errs...)
}

// writeFileAtomic replaces path with data through a temporary file in the same
// directory, so readers never see a half-written report.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
