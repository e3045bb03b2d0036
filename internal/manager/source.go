package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	s3store "siem-detect/internal/storage/s3"
)

// RawDocument is an unparsed override document and where it came from.
type RawDocument struct {
	Name string
	Data []byte
}

// Source supplies override documents in the order they should apply.
type Source interface {
	Fetch(ctx context.Context) ([]RawDocument, error)
}

// FileSource reads override documents from local paths. A directory
// contributes its .yaml and .yml files in name order; it is not walked
// recursively.
type FileSource struct {
	Paths []string
}

// Fetch implements Source.
func (s FileSource) Fetch(ctx context.Context) ([]RawDocument, error) {
	var docs []RawDocument
	for _, p := range s.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("override source: %w", err)
		}

		files := []string{p}
		if info.IsDir() {
			if files, err = yamlFiles(p); err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("override source: %w", err)
			}
			docs = append(docs, RawDocument{Name: f, Data: data})
		}
	}
	return docs, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("override source: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// S3Source reads override documents stored under a bucket prefix.
type S3Source struct {
	Client *s3store.Client
	// Prefix is relative to the client's configured prefix.
	Prefix string
}

// Fetch implements Source.
func (s S3Source) Fetch(ctx context.Context) ([]RawDocument, error) {
	objects, err := s.Client.FetchAll(ctx, s.Prefix, ".yaml", ".yml")
	if err != nil {
		return nil, fmt.Errorf("override source: %w", err)
	}
	docs := make([]RawDocument, 0, len(objects))
	for _, o := range objects {
		docs = append(docs, RawDocument{
			Name: fmt.Sprintf("s3://%s/%s", s.Client.Bucket(), o.Key),
			Data: o.Data,
		})
	}
	return docs, nil
}

// ApplySource fetches, parses and applies every document from src in
// order. A document that fails to parse is skipped; every failure is
// returned joined and labeled with the document name.
func (m *Manager) ApplySource(ctx context.Context, src Source) error {
	raw, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, d := range raw {
		doc, err := ParseDocument(d.Data)
		if err == nil {
			err = m.Apply(doc)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		m.logger.Info("applied override document", "source", d.Name, "entries", len(doc.Overrides))
	}
	return errors.Join(errs...)
}
