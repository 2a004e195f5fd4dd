package repository

import (
	"path/filepath"
	"sync"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// StreamRepository is the persisted catalog of CCTV entries.
type StreamRepository interface {
	Save(name string, coordX, coordY float64) (*models.Stream, error)
	Delete(name string) (*models.Stream, error)
	GetByName(name string) (*models.Stream, error)
	GetAll() []*models.Stream
}

const streamFileName = "streams.json"

// JSONStreamRepository persists streams as a JSON array under the state dir.
type JSONStreamRepository struct {
	mu      sync.Mutex
	path    string
	streams []*models.Stream
}

// NewJSONStreamRepository loads (or initialises) the stream file.
func NewJSONStreamRepository(stateDir string) (*JSONStreamRepository, error) {
	r := &JSONStreamRepository{path: filepath.Join(stateDir, streamFileName)}
	if err := loadJSON(r.path, &r.streams); err != nil {
		return nil, err
	}
	return r, nil
}

// Save adds a stream entry. Names are unique.
func (r *JSONStreamRepository) Save(name string, coordX, coordY float64) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streams {
		if s.Name == name {
			return nil, models.Validationf("stream %q already exists", name)
		}
	}
	s := &models.Stream{
		ID:     models.NewID(),
		Name:   name,
		CoordX: coordX,
		CoordY: coordY,
		Avail:  true,
	}
	r.streams = append(r.streams, s)
	if err := saveJSON(r.path, r.streams); err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

// Delete removes the named stream and returns it.
func (r *JSONStreamRepository) Delete(name string) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.streams {
		if s.Name == name {
			r.streams = append(r.streams[:i], r.streams[i+1:]...)
			if err := saveJSON(r.path, r.streams); err != nil {
				return nil, err
			}
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.NotFoundf("stream %s", name)
}

// GetByName returns the named stream.
func (r *JSONStreamRepository) GetByName(name string) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streams {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.NotFoundf("stream %s", name)
}

// GetAll returns snapshot copies of every stream.
func (r *JSONStreamRepository) GetAll() []*models.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		cp := *s
		out = append(out, &cp)
	}
	return out
}
