package tracker

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/emirpasic/gods/v2/maps/treemap"
	"github.com/google/uuid"

	"github.com/pierrot-lc/snake-search/draw"
)

// Run is an active training run. Metrics are written through to the
// database and mirrored in sorted in-memory series so the trainer can
// report windowed statistics without hitting sqlite.
type Run struct {
	ID    string
	Group string
	Dir   string

	store  *Store
	series map[string]*treemap.Map[int, float64]
}

// NewRun registers a run and creates its artifact directory.
func (s *Store) NewRun(group, configYAML string) (*Run, error) {
	id := uuid.New().String()
	dir := s.RunDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	_, err := s.conn.Exec(`
		INSERT INTO runs (id, group_name, config, created_at) VALUES (?, ?, ?, ?)`,
		id, group, configYAML, time.Now().Unix())
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		return nil, err
	}

	return &Run{
		ID:     id,
		Group:  group,
		Dir:    dir,
		store:  s,
		series: make(map[string]*treemap.Map[int, float64]),
	}, nil
}

// Log records one scalar metric value.
func (r *Run) Log(name string, iteration int, value float64) error {
	_, err := r.store.conn.Exec(`
		INSERT INTO metrics (run_id, name, iteration, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, name, iteration, value, time.Now().Unix())
	if err != nil {
		return err
	}

	s, ok := r.series[name]
	if !ok {
		s = treemap.New[int, float64]()
		r.series[name] = s
	}
	s.Put(iteration, value)
	return nil
}

// Series returns the in-memory points of a metric in iteration order.
func (r *Run) Series(name string) []Point {
	s, ok := r.series[name]
	if !ok {
		return nil
	}

	out := make([]Point, 0, s.Size())
	for _, k := range s.Keys() {
		v, _ := s.Get(k)
		out = append(out, Point{Iteration: k, Value: v})
	}
	return out
}

// Last returns the most recent value of a metric.
func (r *Run) Last(name string) (Point, bool) {
	s, found := r.series[name]
	if !found {
		return Point{}, false
	}
	k, v, ok := s.Max()
	if !ok {
		return Point{}, false
	}
	return Point{Iteration: k, Value: v}, true
}

// LogImage saves a rendered plot under the run directory and records
// it.
func (r *Run) LogImage(name string, iteration int, img *image.RGBA) error {
	filename := fmt.Sprintf("%s-%06d.png", name, iteration)
	path := filepath.Join(r.Dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := draw.EncodePNG(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_, err = r.store.conn.Exec(`
		INSERT INTO images (run_id, name, iteration, path) VALUES (?, ?, ?, ?)`,
		r.ID, name, iteration, path)
	return err
}

// CheckpointPath is where the run's weights live.
func (r *Run) CheckpointPath() string {
	return filepath.Join(r.Dir, "checkpoint.snsf")
}

// Finish marks the run as completed.
func (r *Run) Finish() error {
	_, err := r.store.conn.Exec(`
		UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().Unix(), r.ID)
	return err
}
