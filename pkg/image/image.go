// Package image loads image attachments for turns. Images come from files,
// URLs or the system clipboard and are carried as base64 payloads with a
// sniffed MIME type.
package image

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// SupportedFormats lists the file extensions accepted as attachments.
var SupportedFormats = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Image is one attachment: raw bytes plus the MIME type they sniffed as.
type Image struct {
	Data     []byte
	MimeType string
	Source   string // file path, URL, or "clipboard"
}

// Base64 returns the standard-encoded payload for the wire.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI renders the image as a data URI for request content parts.
func (i *Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MimeType, i.Base64())
}

// FromFile reads an image from a file path.
func FromFile(path string) (*Image, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	mimeType := DetectMimeType(absPath, data)
	if mimeType == "" {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(absPath))
	}

	return &Image{
		Data:     data,
		MimeType: mimeType,
		Source:   absPath,
	}, nil
}

// FromURL fetches an image over HTTP.
func FromURL(url string) (*Image, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	mimeType := DetectMimeType("", data)
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	if !isImageMimeType(mimeType) {
		return nil, fmt.Errorf("not an image: %s", mimeType)
	}

	return &Image{
		Data:     data,
		MimeType: mimeType,
		Source:   url,
	}, nil
}

// FromClipboard reads an image from the system clipboard.
func FromClipboard() (*Image, error) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("pngpaste"); err != nil {
			return nil, fmt.Errorf("no clipboard tool available (install pngpaste)")
		}
		cmd = exec.Command("pngpaste", "-")
	case "linux":
		if _, err := exec.LookPath("wl-paste"); err == nil {
			cmd = exec.Command("wl-paste", "--type", "image/png")
		} else if _, err := exec.LookPath("xclip"); err == nil {
			cmd = exec.Command("xclip", "-selection", "clipboard", "-t", "image/png", "-o")
		} else if _, err := exec.LookPath("xsel"); err == nil {
			cmd = exec.Command("xsel", "--clipboard", "--output")
		} else {
			return nil, fmt.Errorf("no clipboard tool available (install wl-paste, xclip or xsel)")
		}
	case "windows":
		cmd = exec.Command("powershell", "-command",
			"[System.Windows.Forms.Clipboard]::GetImage().Save([System.Console]::OpenStandardOutput(), [System.Drawing.Imaging.ImageFormat]::Png)")
	default:
		return nil, fmt.Errorf("clipboard not supported on %s", runtime.GOOS)
	}

	data, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read clipboard: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("clipboard is empty or does not contain an image")
	}

	mimeType := DetectMimeType("", data)
	if mimeType == "" {
		mimeType = "image/png"
	}

	return &Image{
		Data:     data,
		MimeType: mimeType,
		Source:   "clipboard",
	}, nil
}

// DetectMimeType sniffs the MIME type from magic bytes, falling back to the
// file extension. Content wins so a mislabeled file still attaches as what
// it actually is.
func DetectMimeType(path string, data []byte) string {
	if len(data) >= 3 {
		switch {
		case len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
			return "image/png"
		case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
			return "image/jpeg"
		case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
			return "image/gif"
		case len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
			data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50:
			return "image/webp"
		case data[0] == 0x42 && data[1] == 0x4D:
			return "image/bmp"
		}
	}

	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png":
			return "image/png"
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".gif":
			return "image/gif"
		case ".webp":
			return "image/webp"
		case ".bmp":
			return "image/bmp"
		}
	}

	return ""
}

func isImageMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// IsSupportedFormat checks if a file extension is accepted as an attachment.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// Loader resolves attachment sources and enforces the size cap.
type Loader struct {
	MaxBytes int64
}

// NewLoader creates a loader with the default 20MB cap.
func NewLoader() *Loader {
	return &Loader{MaxBytes: 20 * 1024 * 1024}
}

// Load resolves a source: "clipboard", an http(s) URL, or a file path.
func (l *Loader) Load(source string) (*Image, error) {
	source = strings.TrimSpace(source)

	var (
		img *Image
		err error
	)
	switch {
	case source == "clipboard":
		img, err = FromClipboard()
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		img, err = FromURL(source)
	default:
		img, err = FromFile(source)
	}
	if err != nil {
		return nil, err
	}

	if err := l.Validate(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate checks an image is usable as an attachment.
func (l *Loader) Validate(img *Image) error {
	if img == nil {
		return fmt.Errorf("image is nil")
	}
	if len(img.Data) == 0 {
		return fmt.Errorf("image data is empty")
	}
	if l.MaxBytes > 0 && int64(len(img.Data)) > l.MaxBytes {
		return fmt.Errorf("image too large: %d bytes (max %d)", len(img.Data), l.MaxBytes)
	}
	if img.MimeType == "" {
		return fmt.Errorf("unknown image format")
	}
	return nil
}
