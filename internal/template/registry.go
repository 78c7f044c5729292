package template

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultName is used when a caller does not ask for a specific template.
const DefaultName = "template1"

var ErrTemplateNotFound = errors.New("template not found")

// Rect is a pixel rectangle in the template image's coordinate space,
// top-left origin.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config describes one template: its registry name and the face slot the
// generated face is composited into. The backing image asset is stored
// separately under the key "<name>.png".
type Config struct {
	Name         string `json:"name"`
	FacePosition Rect   `json:"face_position"`
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("template name is required")
	}
	if c.FacePosition.X < 0 || c.FacePosition.Y < 0 {
		return fmt.Errorf("template %s: face position offsets must be non-negative", c.Name)
	}
	if c.FacePosition.Width <= 0 || c.FacePosition.Height <= 0 {
		return fmt.Errorf("template %s: face position must have positive dimensions", c.Name)
	}
	return nil
}

// AssetLister is the slice of the asset store ListAvailable needs.
type AssetLister interface {
	List(ctx context.Context) ([]string, error)
}

// Registry is a fixed, read-only mapping from template name to Config.
// It is safe for concurrent use after construction.
type Registry struct {
	templates map[string]Config
}

func NewRegistry(configs ...Config) (*Registry, error) {
	templates := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if _, ok := templates[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate template name: %s", cfg.Name)
		}
		templates[cfg.Name] = cfg
	}
	return &Registry{templates: templates}, nil
}

// Resolve returns the config registered under name. An unknown name is a
// configuration error, distinct from the backing asset being missing.
func (r *Registry) Resolve(name string) (Config, error) {
	cfg, ok := r.templates[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return cfg, nil
}

// AssetKey is the storage key for a template's backing image.
func AssetKey(name string) string {
	return name + ".png"
}

// ListAvailable returns the sorted names of registered templates whose
// backing asset is actually present in the store. The scan is best-effort:
// if the store is unreachable the result is empty, never an error.
func (r *Registry) ListAvailable(ctx context.Context, store AssetLister) []string {
	available := make([]string, 0, len(r.templates))

	keys, err := store.List(ctx)
	if err != nil {
		return available
	}

	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
	}

	for name := range r.templates {
		if _, ok := present[AssetKey(name)]; ok {
			available = append(available, name)
		}
	}
	sort.Strings(available)
	return available
}
