package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/checksum"
	"github.com/starford/appcatalog/internal/models"
)

// Dir reads app manifests from a directory tree. Each .yaml, .yml or .json
// file holds a single manifest or a list of manifests.
type Dir struct {
	root       string
	normalizer Normalizer
	logger     *slog.Logger
}

// NewDir creates a directory source rooted at root.
func NewDir(root string, normalizer Normalizer, logger *slog.Logger) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	normalizer.Logger = logger
	return &Dir{root: abs, normalizer: normalizer, logger: logger}, nil
}

// Name implements Source.
func (d *Dir) Name() string { return "dir" }

// Root returns the absolute manifest directory.
func (d *Dir) Root() string { return d.root }

// IsManifest reports whether path has a manifest extension.
func IsManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Fetch reads every manifest file in lexical path order.
func (d *Dir) Fetch(ctx context.Context) (*Batch, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: dir: %v", apperr.ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: dir: %s is not a directory", apperr.ErrSourceUnavailable, d.root)
	}

	var paths []string
	err = filepath.WalkDir(d.root, func(p string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if e.IsDir() {
			if p != d.root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(e.Name(), ".") || !IsManifest(p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dir: walk: %v", apperr.ErrSourceUnavailable, err)
	}
	sort.Strings(paths)

	files := make(map[string][]byte, len(paths))
	var manifests []Manifest
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(d.root, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: dir: read %s: %v", apperr.ErrSourceUnavailable, rel, err)
		}
		files[rel] = data

		got, err := decodeManifests(data)
		if err != nil {
			return nil, fmt.Errorf("%w: dir: %s: %v", apperr.ErrSourceFormat, rel, err)
		}
		manifests = append(manifests, got...)
	}
	d.logger.Debug("source: manifests read",
		slog.String("root", d.root),
		slog.Int("files", len(paths)),
		slog.Int("records", len(manifests)))

	records, err := d.normalizer.Normalize(d.root, manifests)
	if err != nil {
		return nil, err
	}
	return &Batch{Records: records, Digest: checksum.SumParts(files)}, nil
}

// ParseManifests decodes one YAML or JSON manifest document and validates
// it strictly.
func ParseManifests(data []byte) ([]models.SourceRecord, error) {
	manifests, err := decodeManifests(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrSourceFormat, err)
	}
	return Normalizer{}.Normalize("document", manifests)
}

// decodeManifests parses one file: a mapping is one manifest, a sequence is
// a list of them, an empty document yields none.
func decodeManifests(data []byte) ([]Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []Manifest
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		var m Manifest
		if err := root.Decode(&m); err != nil {
			return nil, err
		}
		return []Manifest{m}, nil
	default:
		return nil, errors.New("expected a manifest mapping or a list of manifests")
	}
}
