package serviceconfig

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/admindash/model"
)

// Source supplies the raw service config list.
type Source interface {
	Load(ctx context.Context) ([]model.ServiceConfig, error)
}

// Invalidator is implemented by sources that cache their results. Loader
// calls Invalidate before a refresh.
type Invalidator interface {
	Invalidate()
}

// DropFunc receives an entry a source could not decode. origin names the
// file, row or list position it came from.
type DropFunc func(origin string, err error)

// Dropper is implemented by sources that skip undecodable entries instead of
// failing the whole load. Loader routes the drops to Store.Reject.
type Dropper interface {
	OnDrop(fn DropFunc)
}

// DirSource reads service configs from YAML files. A file holds either one
// config or a sequence of them.
type DirSource struct {
	Dirs []string

	drop DropFunc
}

// OnDrop sets the function receiving unreadable files and entries.
func (d *DirSource) OnDrop(fn DropFunc) { d.drop = fn }

// NewDirSource creates a DirSource over the given directories.
func NewDirSource(dirs ...string) *DirSource {
	return &DirSource{Dirs: dirs}
}

// Load recursively scans the directories for *.yaml and *.yml files. Files are
// read in lexical path order so the result is stable.
func (d *DirSource) Load(ctx context.Context) ([]model.ServiceConfig, error) {
	var paths []string
	for _, dir := range d.Dirs {
		err := filepath.WalkDir(dir, func(path string, e os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if e.IsDir() || !isYAML(path) {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}
	sort.Strings(paths)

	var out []model.ServiceConfig
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfgs, err := LoadFile(path, d.drop)
		if err != nil {
			reportDrop(d.drop, path, err)
			continue
		}
		out = append(out, cfgs...)
	}
	return out, nil
}

// Checksum returns the SHA-256 of every YAML file under the directories, so
// callers can skip reloads when nothing changed.
func (d *DirSource) Checksum() (string, error) {
	h := sha256.New()
	for _, dir := range d.Dirs {
		err := filepath.WalkDir(dir, func(path string, e os.DirEntry, err error) error {
			if err != nil || e.IsDir() || !isYAML(path) {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			h.Write([]byte(path))
			h.Write(data)
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// LoadFile parses a single YAML file. Entries of a sequence that fail to
// decode are passed to drop and skipped; a file that is not valid YAML fails
// as a whole.
func LoadFile(path string, drop DropFunc) ([]model.ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfgs, err := decodeYAML(path, data, drop)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfgs, nil
}

func decodeYAML(path string, data []byte, drop DropFunc) ([]model.ServiceConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind != yaml.SequenceNode {
		var cfg model.ServiceConfig
		if err := root.Decode(&cfg); err != nil {
			return nil, err
		}
		return []model.ServiceConfig{cfg}, nil
	}

	cfgs := make([]model.ServiceConfig, 0, len(root.Content))
	for i, item := range root.Content {
		var cfg model.ServiceConfig
		if err := item.Decode(&cfg); err != nil {
			reportDrop(drop, fmt.Sprintf("%s[%d]", path, i), err)
			continue
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func reportDrop(drop DropFunc, origin string, err error) {
	if drop != nil {
		drop(origin, err)
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Loader feeds a Store from a Source and serves as the store's refresh
// function.
type Loader struct {
	source   Source
	store    *Store
	logger   *zap.Logger
	onResult func(loaded int, err error)
}

// NewLoader wires source into store and installs itself as the store's
// refresh function.
func NewLoader(source Source, store *Store, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{source: source, store: store, logger: logger}
	if d, ok := source.(Dropper); ok {
		d.OnDrop(store.Reject)
	}
	store.SetRefresh(l.Refresh)
	return l
}

// Load reads the source once and populates the store.
func (l *Loader) Load(ctx context.Context) error {
	l.store.SetLoading()
	cfgs, err := l.source.Load(ctx)
	if err != nil {
		err = fmt.Errorf("loading service configs: %w", err)
		l.store.SetError(err)
		l.report(0, err)
		return err
	}
	l.store.SetServiceConfigs(cfgs)
	loaded := len(l.store.List())
	l.logger.Info("service configs loaded", zap.Int("count", len(cfgs)), zap.Int("parsed", loaded))
	l.report(loaded, nil)
	return nil
}

// OnResult registers fn to receive the parsed config count or the error of
// every load. It must be called before loading starts.
func (l *Loader) OnResult(fn func(loaded int, err error)) {
	l.onResult = fn
}

func (l *Loader) report(loaded int, err error) {
	if l.onResult != nil {
		l.onResult(loaded, err)
	}
}

// Refresh drops any cached source result and loads again.
func (l *Loader) Refresh(ctx context.Context) error {
	if inv, ok := l.source.(Invalidator); ok {
		inv.Invalidate()
	}
	return l.Load(ctx)
}
