package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// preparedImage is what gets sent to an OCR engine
type preparedImage struct {
	Data      []byte
	Format    string // "png" or "webp", as genai.ImageData expects
	MimeType  string
	Converted bool
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

// imageToPNG decodes HEIC/HEIF, JPEG, GIF or PNG and re-encodes it as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format (supported: JPEG, PNG, GIF, WEBP, HEIC, HEIF, PDF): %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// detectMimeType normalizes contentType, sniffing the bytes when the caller
// did not know it (chat attachments arrive without one).
func detectMimeType(imageData []byte, contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		if isHEICFormat(imageData) {
			return "image/heic"
		}
		mimeType = http.DetectContentType(imageData)
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	return mimeType
}

// prepareImage converts PDFs and non-PNG images to PNG. WEBP is passed
// through untouched since both engines accept it directly.
func prepareImage(imageData []byte, contentType string) (preparedImage, error) {
	mimeType := detectMimeType(imageData, contentType)

	switch {
	case mimeType == "application/pdf":
		data, err := pdfToImage(imageData)
		if err != nil {
			return preparedImage{}, fmt.Errorf("converting PDF to image: %w", err)
		}
		return preparedImage{Data: data, Format: "png", MimeType: "image/png", Converted: true}, nil
	case mimeType == "image/webp":
		return preparedImage{Data: imageData, Format: "webp", MimeType: mimeType}, nil
	case mimeType == "image/png" && !isHEICFormat(imageData):
		return preparedImage{Data: imageData, Format: "png", MimeType: mimeType}, nil
	default:
		data, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return preparedImage{}, fmt.Errorf("converting image to PNG: %w", err)
		}
		return preparedImage{Data: data, Format: "png", MimeType: "image/png", Converted: true}, nil
	}
}
