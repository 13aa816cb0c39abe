// Package export assembles a completed session's page images into a
// single PDF document.
package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoPages is returned when the session has no captured pages.
var ErrNoPages = errors.New("export: session has no pages")

// ImageSource lists a session's page images in index order. Implemented
// by the store.
type ImageSource interface {
	PageImagePaths(ctx context.Context, sessionID string) ([]string, error)
}

// PDF imports the session's page images, in page order, into a PDF
// written at outPath.
func PDF(ctx context.Context, src ImageSource, sessionID, outPath string) error {
	paths, err := src.PageImagePaths(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("export: list images: %w", err)
	}
	if len(paths) == 0 {
		return ErrNoPages
	}
	if err := api.ImportImagesFile(paths, outPath, nil, nil); err != nil {
		return fmt.Errorf("export: import images: %w", err)
	}
	return nil
}
