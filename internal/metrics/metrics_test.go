package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	Init()
	Init()

	IncPagesRendered()
	IncChunk("success")
	ObserveRemote("upload", nil, 300*time.Millisecond)
	IncFile("pdf", errors.New("boom"))

	path := filepath.Join(t.TempDir(), "pdftoolkit.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "pdftoolkit_pages_rendered_total")
	assert.Contains(t, out, `pdftoolkit_chunks_recognized_total{result="success"}`)
	assert.Contains(t, out, `pdftoolkit_files_processed_total{kind="pdf",result="error"} 1`)
	assert.Contains(t, out, `pdftoolkit_remote_request_duration_seconds_count{op="upload",result="success"}`)
}
