// Package hclconf is the HCL implementation of config.Loader. It parses
// pipeline definition files and translates them into the format-agnostic
// config model.
package hclconf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/config"
	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
)

// Loader parses .hcl pipeline definitions.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates an HCL loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

type fileSchema struct {
	Pipelines []*pipelineSchema `hcl:"pipeline,block"`
}

type pipelineSchema struct {
	Name        string            `hcl:"name,label"`
	ID          int64             `hcl:"id"`
	Annotations map[string]string `hcl:"annotations,optional"`
	Jobs        []*jobSchema      `hcl:"job,block"`
}

type jobSchema struct {
	Name        string            `hcl:"name,label"`
	Image       string            `hcl:"image,optional"`
	Commands    []string          `hcl:"commands,optional"`
	Requires    hcl.Expression    `hcl:"requires,optional"`
	Annotations map[string]string `hcl:"annotations,optional"`
}

// Load implements config.Loader. Each path may be a single .hcl file or a
// directory that is walked for .hcl files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		found, err := findHCLFiles(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", p, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl pipeline definitions found in %v", paths)
	}
	logger.Debug("Loading pipeline definitions.", "files", len(files))

	model := &config.Model{}
	seenIDs := make(map[int64]string)
	for _, f := range files {
		hclFile, diags := l.parser.ParseHCLFile(f)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", f, diags)
		}

		var parsed fileSchema
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", f, diags)
		}

		for _, ps := range parsed.Pipelines {
			if prev, dup := seenIDs[ps.ID]; dup {
				return nil, fmt.Errorf("pipeline id %d declared twice (%s and %s)", ps.ID, prev, ps.Name)
			}
			seenIDs[ps.ID] = ps.Name

			p, err := translatePipeline(ps)
			if err != nil {
				return nil, fmt.Errorf("invalid pipeline %q in %s: %w", ps.Name, f, err)
			}
			model.Pipelines = append(model.Pipelines, p)
		}
	}

	logger.Debug("Pipeline definitions loaded.", "pipelines", len(model.Pipelines))
	return model, nil
}

// findHCLFiles expands a path into the list of .hcl files it names.
func findHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
