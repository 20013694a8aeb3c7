package attachment

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// File is an attachment prepared for upload
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// IsImage reports whether the file is an image
func (f *File) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// Preparer reads local resources and shrinks oversized images
type Preparer struct {
	maxFileSize  int64 // Maximum file size in bytes
	maxImageSize uint  // Maximum image dimension (width or height)
	imageQuality int   // JPEG quality (1-100)
}

// NewPreparer creates a preparer; zero values select the defaults
func NewPreparer(maxFileSize int64, maxImageSize uint, imageQuality int) *Preparer {
	if maxFileSize <= 0 {
		maxFileSize = 20 * 1024 * 1024 // 20MB
	}
	if maxImageSize == 0 {
		maxImageSize = 2048
	}
	if imageQuality <= 0 || imageQuality > 100 {
		imageQuality = 85
	}
	return &Preparer{
		maxFileSize:  maxFileSize,
		maxImageSize: maxImageSize,
		imageQuality: imageQuality,
	}
}

// LocalPath turns a resource locator (plain path or file:// URL) into a path
func LocalPath(resource string) (string, error) {
	if !strings.Contains(resource, "://") {
		return resource, nil
	}
	u, err := url.Parse(resource)
	if err != nil {
		return "", fmt.Errorf("invalid resource %q: %w", resource, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported resource scheme %q", u.Scheme)
	}
	return u.Path, nil
}

// Prepare loads a local resource
func (p *Preparer) Prepare(resource string) (*File, error) {
	path, err := LocalPath(resource)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > p.maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d bytes)", info.Size(), p.maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	file := &File{
		Name:     filepath.Base(path),
		MimeType: detectMimeType(path, data),
		Data:     data,
	}

	if file.IsImage() {
		if err := p.shrinkImage(file); err != nil {
			return nil, err
		}
	}

	return file, nil
}

// detectMimeType detects the MIME type by extension, then by content
func detectMimeType(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		// Remove charset if present
		if idx := strings.Index(mimeType, ";"); idx > 0 {
			mimeType = mimeType[:idx]
		}
		return mimeType
	}

	switch ext {
	case ".md":
		return "text/markdown"
	case ".go":
		return "text/x-go"
	case ".py":
		return "text/x-python"
	}

	if isTextContent(data) {
		return "text/plain"
	}
	return "application/octet-stream"
}

// isTextContent checks the first 512 bytes for null bytes
func isTextContent(data []byte) bool {
	if len(data) > 512 {
		data = data[:512]
	}
	return !bytes.Contains(data, []byte{0})
}

// shrinkImage downscales images larger than maxImageSize, keeping the aspect
// ratio. Smaller or undecodable images are uploaded as they are.
func (p *Preparer) shrinkImage(file *File) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(file.Data))
	if err != nil {
		return nil
	}
	if uint(cfg.Width) <= p.maxImageSize && uint(cfg.Height) <= p.maxImageSize {
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(file.Data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	if cfg.Width > cfg.Height {
		img = resize.Resize(p.maxImageSize, 0, img, resize.Lanczos3)
	} else {
		img = resize.Resize(0, p.maxImageSize, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		// Convert to JPEG for other formats
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.imageQuality})
		if format != "jpeg" {
			file.MimeType = "image/jpeg"
			file.Name = strings.TrimSuffix(file.Name, filepath.Ext(file.Name)) + ".jpg"
		}
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	file.Data = buf.Bytes()
	return nil
}
