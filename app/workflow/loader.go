package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a workflow document from a json or yaml file.
// Documents without an id get the file name (without extension) as id.
func LoadFile(path string) (Workflow, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured library dir
	if err != nil {
		return Workflow{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Workflow{}, fmt.Errorf("%w: can't parse yaml %s: %v", ErrInvalid, path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return Workflow{}, fmt.Errorf("%w: can't convert yaml %s: %v", ErrInvalid, path, err)
		}
	default:
		return Workflow{}, fmt.Errorf("unsupported workflow file %s", path)
	}

	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return Workflow{}, fmt.Errorf("%w: failed to load %s: %v", ErrInvalid, path, err)
	}
	if wf.ID == "" {
		// files without id get a stable one, reloading must not produce new documents
		wf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	wf = wf.WithDefaults()
	if err := wf.Validate(); err != nil {
		return Workflow{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return wf, nil
}

// LoadDir loads all workflow files (json, yaml, yml) from dir, parsing up to concurrency files
// in parallel. Results are in file name order. A single bad file fails the whole load.
func LoadDir(ctx context.Context, dir string, concurrency int) ([]Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if concurrency < 1 {
		concurrency = 1
	}
	res := make([]Workflow, len(files))
	gr := syncs.NewErrSizedGroup(concurrency, syncs.Context(ctx), syncs.Preemptive)
	for i, f := range files {
		gr.Go(func() error {
			wf, err := LoadFile(f)
			if err != nil {
				return err
			}
			res[i] = wf
			return nil
		})
	}
	if err := gr.Wait(); err != nil {
		var me *syncs.MultiError
		if errors.As(err, &me) {
			return nil, errors.Join(me.Errors()...)
		}
		return nil, err
	}
	log.Printf("[DEBUG] loaded %d workflows from %s", len(res), dir)
	return res, nil
}
