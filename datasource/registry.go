package datasource

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownSource = errors.New("unknown data source")

// Source is an opened data source with its schema resolver.
type Source struct {
	*Client
	Schema  *Schema
	watcher *Watcher
}

// Registry holds the configured data sources by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]*Source{}}
}

// OpenRegistry opens every configured source. Sources opened before a
// failure are closed again.
func OpenRegistry(ctx context.Context, configs []Config) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range configs {
		client, err := Open(ctx, cfg)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if err := r.Add(ctx, client); err != nil {
			_ = client.Close()
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Add registers an opened client and starts its binlog watcher if one is
// configured.
func (r *Registry) Add(ctx context.Context, client *Client) error {
	name := client.Config.Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; ok {
		return errors.Errorf("data source %s registered twice", name)
	}

	src := &Source{Client: client, Schema: NewSchema(client, client.Config.SchemaTTL)}
	if bc := client.Config.Binlog; bc != nil && client.Dialect() == MySQL {
		w, err := NewWatcher(binlogDefaults(*bc, client.Config), client.Config.Database, src.Schema)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Close()
			return err
		}
		src.watcher = w
	}
	r.sources[name] = src
	return nil
}

func binlogDefaults(bc BinlogConfig, cfg Config) BinlogConfig {
	if bc.Addr == "" {
		port := cfg.Port
		if port == "" {
			port = "3306"
		}
		bc.Addr = net.JoinHostPort(cfg.Host, port)
	}
	if bc.User == "" {
		bc.User, bc.Password = cfg.User, cfg.Password
	}
	return bc
}

func (r *Registry) Get(name string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownSource, name)
	}
	return src, nil
}

// Names lists the registered sources in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, src := range r.sources {
		if src.watcher != nil {
			if err := src.watcher.Close(); err != nil {
				slog.Error("close binlog watcher", "name", name, "error", err)
			}
		}
		if err := src.Client.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.sources, name)
	}
	return first
}
