package query

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/parallel"
)

// SourceInline names the task of a literal query.
const SourceInline = "inline"

const readLimit = 8

// Source selects where the documents come from. The first non-empty field
// wins, in the order Query, File, Pattern.
type Source struct {
	Query   string
	File    string
	Pattern string
}

func (s Source) String() string {
	switch {
	case s.Query != "":
		return SourceInline
	case s.File != "":
		return s.File
	case s.Pattern != "":
		return s.Pattern
	default:
		return ""
	}
}

// Load reads and splits the documents of src. A glob yields one task per
// matched file, sorted by path.
func Load(ctx context.Context, src Source) ([]Task, error) {
	switch {
	case src.Query != "":
		return []Task{Split(SourceInline, src.Query)}, nil
	case src.File != "":
		task, err := loadFile(ctx, src.File)
		if err != nil {
			return nil, err
		}
		return []Task{task}, nil
	case src.Pattern != "":
		return loadGlob(ctx, src.Pattern)
	default:
		return nil, model.ErrNoSource
	}
}

func loadFile(_ context.Context, path string) (Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Task{}, fmt.Errorf("reading query file: %w", err)
	}
	return Split(path, string(b)), nil
}

func loadGlob(ctx context.Context, pattern string) ([]Task, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("matching %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no file matches %q", model.ErrNoSource, pattern)
	}
	slices.Sort(matches)
	return parallel.Map(ctx, readLimit, matches, loadFile)
}
