// Package preview generates thumbnails from still-image inputs in
// process, without spawning the external transcoder. Video inputs go
// through the process runner instead.
package preview

import (
	"fmt"
	"os"
	"strings"

	"media-jobd/internal/logging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// DefaultWidth is used when a thumbnail request omits the width.
	DefaultWidth = 320

	jpegQuality = 85
)

// IsImage reports whether the payload content type can be handled in
// process by this package.
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// Generate decodes the input image, resizes it to the target width
// (preserving aspect ratio) and writes a JPEG to outputPath. When libvips
// is initialized the decode-time-shrink path is used; otherwise the
// pure-Go imaging fallback.
func Generate(inputPath, outputPath string, width int) error {
	if width <= 0 {
		width = DefaultWidth
	}

	if IsVipsAvailable() {
		if err := generateWithVips(inputPath, outputPath, width); err == nil {
			return nil
		} else {
			logging.Debug("vips thumbnail failed for %s, falling back to imaging: %v", inputPath, err)
		}
	}

	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logging.Warn("failed to close thumbnail file %s: %v", outputPath, err)
		}
	}()

	if err := imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return nil
}
