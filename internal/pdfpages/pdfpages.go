// Package pdfpages counts PDF pages and splits documents into fixed-size
// page chunks, each written as a standalone PDF.
package pdfpages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/apperr"
)

// PageRange is a 0-based half-open range of pages [Start, End).
type PageRange struct {
	Start int
	End   int
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int { return r.End - r.Start }

// Selection returns the 1-based inclusive pdfcpu page selection for r.
func (r PageRange) Selection() string {
	if r.Len() == 1 {
		return fmt.Sprintf("%d", r.Start+1)
	}
	return fmt.Sprintf("%d-%d", r.Start+1, r.End)
}

// Chunk is one materialized page range.
type Chunk struct {
	Index int // 1-based
	Range PageRange
	Path  string
}

// PlanChunks partitions pageCount pages into consecutive ranges of at most
// size pages. A zero-page document yields no ranges.
func PlanChunks(pageCount, size int) []PageRange {
	if pageCount <= 0 || size <= 0 {
		return nil
	}
	ranges := make([]PageRange, 0, (pageCount+size-1)/size)
	for start := 0; start < pageCount; start += size {
		end := start + size
		if end > pageCount {
			end = pageCount
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}
	return ranges
}

// ChunkPath returns <destDir>/<stem>_chunk_<index>.pdf for src.
func ChunkPath(src, destDir string, index int) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(destDir, fmt.Sprintf("%s_chunk_%d.pdf", stem, index))
}

func relaxed() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, apperr.NotFound("page count", path)
		}
		return 0, err
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// Splitter writes page chunks of a PDF into a destination folder.
type Splitter struct{}

// Split writes every chunk of src into destDir and returns them in page
// order. The context is checked between chunks.
func (Splitter) Split(ctx context.Context, src, destDir string, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	n, err := PageCount(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk folder: %w", err)
	}

	ranges := PlanChunks(n, size)
	log.Info().Str("file", filepath.Base(src)).Int("pages", n).Int("chunk_size", size).Int("chunks", len(ranges)).Msg("splitting PDF")

	chunks := make([]Chunk, 0, len(ranges))
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return chunks, err
		}
		c := Chunk{Index: i + 1, Range: r, Path: ChunkPath(src, destDir, i+1)}
		if err := api.TrimFile(src, c.Path, []string{r.Selection()}, relaxed()); err != nil {
			return chunks, fmt.Errorf("write chunk %d (pages %s): %w", c.Index, r.Selection(), err)
		}
		log.Debug().Int("chunk", c.Index).Str("pages", r.Selection()).Str("path", filepath.Base(c.Path)).Msg("created chunk")
		chunks = append(chunks, c)
	}
	return chunks, nil
}
