package backend

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// ErrUnknownBackend is returned when a backend name is not registered.
var ErrUnknownBackend = errors.New("unknown backend")

// Options carries the settings a factory may need. Backends ignore fields
// that do not apply to them.
type Options struct {
	User     string
	Password string

	// BoltPath is the database file of the embedded bolt backend.
	BoltPath string

	Logger *slog.Logger

	// DriverLogger receives log output of third-party database drivers.
	DriverLogger interface{ Print(v ...any) }
}

// Factory builds a cluster over nodes.
type Factory func(nodes []model.Node, opts Options) (Cluster, error)

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Name        string `json:"name"`
	Isolation   string `json:"isolation"`
	Description string `json:"description"`
}

type entry struct {
	info    BackendInfo
	factory Factory
}

// Registry maps backend names to their factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a backend under info.Name, replacing any previous one.
func (r *Registry) Register(info BackendInfo, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Name] = entry{info: info, factory: f}
}

// Open builds the cluster registered under name.
func (r *Registry) Open(name string, nodes []model.Node, opts Options) (Cluster, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WithHintf(errors.Wrapf(ErrUnknownBackend, "%q", name),
			"registered backends: %v", r.Names())
	}
	if len(nodes) == 0 {
		return nil, errors.Newf("backend %q needs at least one node", name)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c, err := e.factory(nodes, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open backend %q", name)
	}
	return c, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	infos := r.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// List returns information about all registered backends, sorted by name
// for stable output.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
