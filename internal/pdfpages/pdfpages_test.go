package pdfpages

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/pdftest"
)

func TestPlanChunksCoversAllPages(t *testing.T) {
	for pages := 0; pages <= 40; pages++ {
		for size := 1; size <= 12; size++ {
			ranges := PlanChunks(pages, size)
			assert.Len(t, ranges, (pages+size-1)/size, "pages=%d size=%d", pages, size)

			next := 0
			for _, r := range ranges {
				assert.Equal(t, next, r.Start, "gap or overlap at pages=%d size=%d", pages, size)
				assert.LessOrEqual(t, r.Len(), size)
				assert.Positive(t, r.Len())
				next = r.End
			}
			assert.Equal(t, pages, next)
		}
	}
}

func TestPlanChunksScenarios(t *testing.T) {
	lens := func(rs []PageRange) []int {
		out := make([]int, len(rs))
		for i, r := range rs {
			out[i] = r.Len()
		}
		return out
	}
	assert.Equal(t, []int{10, 10, 5}, lens(PlanChunks(25, 10)))
	assert.Equal(t, []int{10, 10}, lens(PlanChunks(20, 10)))
	assert.Empty(t, PlanChunks(0, 10))
	assert.Empty(t, PlanChunks(5, 0))
}

func TestSelection(t *testing.T) {
	assert.Equal(t, "1-10", PageRange{Start: 0, End: 10}.Selection())
	assert.Equal(t, "21-25", PageRange{Start: 20, End: 25}.Selection())
	assert.Equal(t, "7", PageRange{Start: 6, End: 7}.Selection())
}

func TestChunkPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "report_chunk_3.pdf"), ChunkPath("/in/report.pdf", "out", 3))
}

func TestSplitWritesChunks(t *testing.T) {
	dir := t.TempDir()
	src := pdftest.WritePDF(t, filepath.Join(dir, "book.pdf"), 25)
	dest := filepath.Join(dir, "book_processing")

	chunks, err := Splitter{}.Split(context.Background(), src, dest, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	want := []int{10, 10, 5}
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Index)
		assert.Equal(t, filepath.Join(dest, fmt.Sprintf("book_chunk_%d.pdf", i+1)), c.Path)
		assert.Equal(t, want[i], pdftest.PageCount(t, c.Path))
		assert.Equal(t, want[i], c.Range.Len())
	}
	assert.Equal(t, 0, chunks[0].Range.Start)
	assert.Equal(t, 25, chunks[2].Range.End)
}

func TestSplitEvenChunks(t *testing.T) {
	dir := t.TempDir()
	src := pdftest.WritePDF(t, filepath.Join(dir, "even.pdf"), 20)

	chunks, err := Splitter{}.Split(context.Background(), src, dir, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, 10, pdftest.PageCount(t, c.Path))
	}
}

func TestSplitErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Splitter{}.Split(context.Background(), filepath.Join(dir, "missing.pdf"), dir, 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	src := pdftest.WritePDF(t, filepath.Join(dir, "one.pdf"), 1)
	_, err = Splitter{}.Split(context.Background(), src, dir, 0)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chunks, err := Splitter{}.Split(ctx, src, dir, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, chunks)
}

func TestPageCount(t *testing.T) {
	dir := t.TempDir()
	src := pdftest.WritePDF(t, filepath.Join(dir, "three.pdf"), 3)
	n, err := PageCount(src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
