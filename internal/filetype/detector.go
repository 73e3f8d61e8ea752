package filetype

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// PDF is the extension routed through the chunked pipeline.
const PDF = "pdf"

// mimeTypes is the fixed allowlist of declared types accepted by the
// recognition service.
var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"doc":  "application/msword",
}

// Normalize lowercases an extension and strips a leading dot.
func Normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// ExtOf returns the normalized extension of path.
func ExtOf(path string) string {
	return Normalize(filepath.Ext(path))
}

// MIMEType returns the declared MIME type for ext and whether it is supported.
func MIMEType(ext string) (string, bool) {
	m, ok := mimeTypes[Normalize(ext)]
	return m, ok
}

// IsSupported reports whether ext is in the allowlist.
func IsSupported(ext string) bool {
	_, ok := MIMEType(ext)
	return ok
}

// Supported returns the allowlisted extensions, sorted.
func Supported() []string {
	out := make([]string, 0, len(mimeTypes))
	for ext := range mimeTypes {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Verification is the outcome of sniffing a file against its declared type.
type Verification struct {
	Declared string
	Detected string
	Match    bool
}

// Detector checks file contents using magic bytes, not filenames.
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Verify sniffs path and reports whether its content agrees with the
// declared extension.
func (d *Detector) Verify(path, ext string) (Verification, error) {
	declared, ok := MIMEType(ext)
	if !ok {
		return Verification{}, fmt.Errorf("unsupported file type %q", ext)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Verification{}, fmt.Errorf("failed to detect file type: %w", err)
	}

	v := Verification{Declared: declared, Detected: mtype.String()}
	v.Match = mtype.Is(declared) || legacyOffice(declared, mtype)

	log.Debug().Str("file", path).Str("declared", declared).Str("detected", v.Detected).Bool("match", v.Match).Msg("verified file type")
	return v, nil
}

// legacyOffice accepts OLE containers for .doc, which sniff as generic
// compound files when the Word stream is not recognized.
func legacyOffice(declared string, m *mimetype.MIME) bool {
	if declared != "application/msword" {
		return false
	}
	for ; m != nil; m = m.Parent() {
		if m.Is("application/x-ole-storage") {
			return true
		}
	}
	return false
}
