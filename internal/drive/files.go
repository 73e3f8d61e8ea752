// Package drive recognizes text in files by uploading them to Google Drive
// as Google Docs and exporting the converted document as plain text.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// GoogleDocMIME is the target type that makes Drive run OCR on upload.
const GoogleDocMIME = "application/vnd.google-apps.document"

// TextMIME is the export format for recognized text.
const TextMIME = "text/plain"

// Files is the subset of the remote service the recognizer needs.
type Files interface {
	Upload(ctx context.Context, name, mimeType string, r io.Reader) (string, error)
	Export(ctx context.Context, id, mimeType string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

type driveFiles struct {
	svc *gdrive.Service
}

func (d *driveFiles) Upload(ctx context.Context, name, mimeType string, r io.Reader) (string, error) {
	meta := &gdrive.File{Name: name, MimeType: GoogleDocMIME}
	f, err := d.svc.Files.Create(meta).
		Media(r, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (d *driveFiles) Export(ctx context.Context, id, mimeType string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Export(id, mimeType).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("export %s: http %d", id, resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *driveFiles) Delete(ctx context.Context, id string) error {
	return d.svc.Files.Delete(id).Context(ctx).Do()
}
