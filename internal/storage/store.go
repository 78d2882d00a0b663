package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/integrate"
	"memsim/internal/membrane"
)

// Store manages per-run trajectory directories under a base path.
type Store struct {
	baseDir string
}

// New returns a store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Init creates the base directory.
func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata describes one stored run.
type RunMetadata struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Integrator string    `json:"integrator"`
	Seed       uint64    `json:"seed"`
	Dt         float64   `json:"dt"`
	TotalTime  float64   `json:"total_time"`
	Status     string    `json:"status"`
	FinalTime  float64   `json:"final_time"`
	FinalE     float64   `json:"final_energy"`
	Residual   float64   `json:"residual"`
	Frames     int       `json:"frames"`
}

// Run is an open trajectory sink implementing integrate.Saver. Frames and
// the trace are written with an atomic temp-file-then-rename so an
// interrupt mid-write never leaves a torn file.
type Run struct {
	dir    string
	meta   RunMetadata
	trace  [][]string
	frames int
}

var _ integrate.Saver = (*Run)(nil)

// failedSuffix tags diverged runs so they are identifiable post hoc.
const failedSuffix = "_failed"

// Begin opens a new run directory and writes its initial metadata.
func (s *Store) Begin(meta RunMetadata) (*Run, error) {
	if meta.ID == "" {
		meta.ID = fmt.Sprintf("%s_%d", meta.Integrator, time.Now().Unix())
	}
	meta.Timestamp = time.Now()
	meta.Status = "running"
	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	r := &Run{dir: dir, meta: meta}
	if err := r.writeMetadata(); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveFrame implements integrate.Saver: one CSV per frame with positions
// and the scalar/vector field overlays the visualization layer reads.
func (r *Run) SaveFrame(sys *membrane.System, sample integrate.Sample) error {
	name := fmt.Sprintf("frame_%05d.csv", r.frames)
	rows := [][]string{{
		"x", "y", "z", "h", "h0", "rho", "mu",
		"p_bend", "p_total", "geodesic", "mask",
	}}
	mesh := sys.Mesh()
	h := sys.MeanCurvature()
	h0 := sys.SpontaneousCurvature()
	rho := sys.ProteinDensity()
	mu := sys.ChemicalPotential()
	bend := sys.BendingPressure()
	dist := sys.GeodesicDistance()
	mask := sys.Mask()
	total := make([]r3.Vec, mesh.NumVertices())
	sys.PhysicalPressure(total)

	for v := 0; v < mesh.NumVertices(); v++ {
		p := mesh.Position(v)
		m := "0"
		if mask[v] {
			m = "1"
		}
		rows = append(rows, []string{
			ftoa(p.X), ftoa(p.Y), ftoa(p.Z),
			ftoa(h[v]), ftoa(h0[v]), ftoa(rho[v]), ftoa(mu[v]),
			ftoa(r3.Norm(bend[v])), ftoa(r3.Norm(total[v])),
			ftoa(dist[v]), m,
		})
	}
	if err := writeCSVAtomic(filepath.Join(r.dir, name), rows); err != nil {
		return err
	}
	r.frames++

	r.trace = append(r.trace, []string{
		ftoa(sample.Time), ftoa(sample.Dt),
		ftoa(sample.Energy.Total), ftoa(sample.Energy.Kinetic),
		ftoa(sample.Energy.Bending), ftoa(sample.Energy.Stretching),
		ftoa(sample.Energy.PressureWork), ftoa(sample.Energy.LineTension),
		ftoa(sample.Energy.ExternalWork),
		ftoa(sample.Residual), ftoa(sample.DArea), ftoa(sample.DVolume),
	})
	r.meta.Frames = r.frames
	r.meta.FinalTime = sample.Time
	r.meta.FinalE = sample.Energy.Total
	r.meta.Residual = sample.Residual
	return r.writeTrace()
}

// Finish implements integrate.Saver: records the terminal status and, on
// divergence, renames the run directory with the failure suffix.
func (r *Run) Finish(status integrate.Status) error {
	r.meta.Status = status.String()
	if err := r.writeMetadata(); err != nil {
		return err
	}
	if status == integrate.Failed {
		failed := r.dir + failedSuffix
		if err := os.Rename(r.dir, failed); err != nil {
			return err
		}
		r.dir = failed
	}
	return nil
}

// Dir returns the run directory (including any failure suffix).
func (r *Run) Dir() string { return r.dir }

func (r *Run) writeMetadata() error {
	data, err := json.MarshalIndent(r.meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(r.dir, "metadata.json"), data)
}

func (r *Run) writeTrace() error {
	rows := [][]string{{
		"time", "dt", "total_e", "kinetic_e", "bending_e", "stretching_e",
		"pressure_e", "line_e", "external_e", "residual", "d_area", "d_volume",
	}}
	rows = append(rows, r.trace...)
	return writeCSVAtomic(filepath.Join(r.dir, "trace.csv"), rows)
}

// List returns the metadata of every stored run, failed runs included,
// sorted by timestamp.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var runs []RunMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

// Trace reads the named columns of a stored run's trace.csv.
func (s *Store) Trace(runID string, column string) ([]float64, error) {
	dir := filepath.Join(s.baseDir, runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		dir = filepath.Join(s.baseDir, runID+failedSuffix)
	}
	f, err := os.Open(filepath.Join(dir, "trace.csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("storage: empty trace for run %s", runID)
	}
	col := -1
	for i, name := range rows[0] {
		if name == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("storage: trace has no column %q", column)
	}
	vals := make([]float64, 0, len(rows)-1)
	for _, row := range rows[1:] {
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func writeCSVAtomic(path string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
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

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
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
