package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/drive"
	"github.com/local/pdftoolkit/internal/pdfpages"
	"github.com/local/pdftoolkit/internal/pdftest"
)

// fakeRecognizer writes "text:<chunk file name>" unless the name is in fail.
type fakeRecognizer struct {
	mu       sync.Mutex
	seen     []string
	fail     map[string]error
	delay    func(name string) time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeRecognizer) Recognize(ctx context.Context, _ *drive.Session, in, out, fileType string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	name := filepath.Base(in)
	f.mu.Lock()
	f.seen = append(f.seen, name+":"+fileType)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(name)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := f.fail[name]; err != nil {
		return err
	}
	return os.WriteFile(out, []byte("text:"+name), 0o644)
}

type fakeConverter struct {
	t      *testing.T
	err    error
	called int
}

func (c *fakeConverter) Convert(_ context.Context, in, out string) (string, error) {
	c.called++
	if c.err != nil {
		return "", c.err
	}
	pdftest.WritePDF(c.t, out, pdftest.PageCount(c.t, in))
	return out, nil
}

type recordingPublisher struct{ runID, path string }

func (p *recordingPublisher) Publish(_ context.Context, runID, path string) (string, error) {
	p.runID, p.path = runID, path
	return "s3://bucket/" + runID + "/" + filepath.Base(path), nil
}

func newProcessor(rec Recognizer) *Processor {
	return &Processor{Splitter: pdfpages.Splitter{}, Recognizer: rec, ChunkSize: 10}
}

func session() *drive.Session { return drive.NewSession(nil) }

func TestChunkSeparator(t *testing.T) {
	assert.Equal(t, "\n\n================================ Chunk 1 End ================================\n\n", ChunkSeparator(1))
}

func TestEnsureProcessingFolderIsIdempotent(t *testing.T) {
	pdf := filepath.Join(t.TempDir(), "report.pdf")
	dir, err := EnsureProcessingFolder(pdf)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(pdf), "report_processing"), dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))

	again, err := EnsureProcessingFolder(pdf)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.FileExists(t, filepath.Join(dir, "marker"))

	entries, err := os.ReadDir(filepath.Dir(pdf))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessTwoChunksConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "book.pdf"), 20)
	rec := &fakeRecognizer{}

	res, err := newProcessor(rec).Process(context.Background(), session(), pdf, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, filepath.Join(dir, "book_processing", "book_ocr_text.txt"), res.Output)
	got, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.Equal(t,
		"text:book_chunk_1.pdf\n\n================================ Chunk 1 End ================================\n\ntext:book_chunk_2.pdf",
		string(got))
	assert.Equal(t, []string{"book_chunk_1.pdf:pdf", "book_chunk_2.pdf:pdf"}, rec.seen)

	// intermediates removed, folder and original kept
	entries, err := os.ReadDir(res.ProcessingDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "book_ocr_text.txt", entries[0].Name())
	assert.FileExists(t, pdf)
}

func TestProcessKeepChunksAndDeleteOriginal(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "book.pdf"), 25)
	out := filepath.Join(dir, "combined.txt")

	res, err := newProcessor(&fakeRecognizer{}).Process(context.Background(), session(), pdf, Options{
		Output:         out,
		KeepChunks:     true,
		DeleteOriginal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, out, res.Output)
	assert.Equal(t, 3, res.Chunks)

	for i := 1; i <= 3; i++ {
		assert.FileExists(t, filepath.Join(res.ProcessingDir, fmt.Sprintf("book_chunk_%d.pdf", i)))
		assert.FileExists(t, filepath.Join(res.ProcessingDir, fmt.Sprintf("book_chunk_%d.txt", i)))
	}
	assert.NoFileExists(t, pdf)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(got), "End ="))
	assert.False(t, strings.HasSuffix(string(got), "\n\n"))
}

func TestProcessUsesConvertedDocument(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "scan.pdf"), 3)
	conv := &fakeConverter{t: t}
	rec := &fakeRecognizer{}
	p := newProcessor(rec)
	p.Converter = conv

	res, err := p.Process(context.Background(), session(), pdf, Options{AutoConvert: true})
	require.NoError(t, err)
	assert.Equal(t, 1, conv.called)
	assert.Equal(t, filepath.Join(res.ProcessingDir, "scan_image.pdf"), res.ImagePDF)
	assert.FileExists(t, res.ImagePDF)
	assert.Equal(t, []string{"scan_image_chunk_1.pdf:pdf"}, rec.seen)
}

func TestProcessFallsBackWhenConversionFails(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "scan.pdf"), 3)
	conv := &fakeConverter{t: t, err: apperr.Conversion("convert", "x", errors.New("boom"))}
	rec := &fakeRecognizer{}
	p := newProcessor(rec)
	p.Converter = conv

	res, err := p.Process(context.Background(), session(), pdf, Options{AutoConvert: true})
	require.NoError(t, err)
	assert.Equal(t, 1, conv.called)
	assert.Empty(t, res.ImagePDF)
	assert.Equal(t, []string{"scan_chunk_1.pdf:pdf"}, rec.seen)
}

func TestProcessSkipsConversionWhenDisabledOrUnavailable(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "a.pdf"), 1)

	conv := &fakeConverter{t: t}
	p := newProcessor(&fakeRecognizer{})
	p.Converter = conv
	_, err := p.Process(context.Background(), session(), pdf, Options{AutoConvert: false})
	require.NoError(t, err)
	assert.Zero(t, conv.called)

	p = newProcessor(&fakeRecognizer{})
	res, err := p.Process(context.Background(), session(), pdf, Options{AutoConvert: true})
	require.NoError(t, err)
	assert.Empty(t, res.ImagePDF)
}

func TestProcessKeepsOrderUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "big.pdf"), 40)
	rec := &fakeRecognizer{delay: func(name string) time.Duration {
		// later chunks finish first
		switch name {
		case "big_chunk_1.pdf":
			return 60 * time.Millisecond
		case "big_chunk_2.pdf":
			return 40 * time.Millisecond
		case "big_chunk_3.pdf":
			return 20 * time.Millisecond
		}
		return 0
	}}
	p := newProcessor(rec)
	p.ChunkSize = 10

	res, err := p.Process(context.Background(), session(), pdf, Options{Concurrency: 4})
	require.NoError(t, err)
	assert.LessOrEqual(t, rec.maxSeen.Load(), int32(4))

	got, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	var want strings.Builder
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&want, "text:big_chunk_%d.pdf", i)
		if i < 4 {
			want.WriteString(ChunkSeparator(i))
		}
	}
	assert.Equal(t, want.String(), string(got))
}

func TestProcessRecognitionFailure(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "book.pdf"), 20)
	rec := &fakeRecognizer{fail: map[string]error{"book_chunk_2.pdf": apperr.Remote("upload", errors.New("quota"))}}

	res, err := newProcessor(rec).Process(context.Background(), session(), pdf, Options{DeleteOriginal: true})
	assert.ErrorIs(t, err, apperr.ErrRemoteService)
	assert.Contains(t, err.Error(), "chunk 2")
	assert.NoFileExists(t, res.Output)
	assert.FileExists(t, pdf, "original survives a failed run")
	assert.NoFileExists(t, filepath.Join(res.ProcessingDir, "book_chunk_1.pdf"))
	assert.NoFileExists(t, filepath.Join(res.ProcessingDir, "book_chunk_1.txt"))
}

func TestProcessPublishesResult(t *testing.T) {
	dir := t.TempDir()
	pdf := pdftest.WritePDF(t, filepath.Join(dir, "book.pdf"), 2)
	pub := &recordingPublisher{}
	p := newProcessor(&fakeRecognizer{})
	p.Publisher = pub
	p.RunID = "run-42"

	res, err := p.Process(context.Background(), session(), pdf, Options{})
	require.NoError(t, err)
	assert.Equal(t, "run-42", pub.runID)
	assert.Equal(t, res.Output, pub.path)
	assert.Equal(t, "s3://bucket/run-42/book_ocr_text.txt", res.Published)
}

func TestProcessMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := newProcessor(&fakeRecognizer{}).Process(context.Background(), session(), filepath.Join(dir, "nope.pdf"), Options{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(dir, "nope_processing"))
}
