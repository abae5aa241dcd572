package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ledongthuc/pdf"
	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// unipdfEnabled is set once a UniDoc metered key was accepted.
var unipdfEnabled atomic.Bool

// ConfigurePDF registers a UniDoc license key. Without one, PDF text is
// extracted with the pure-Go ledongthuc/pdf reader instead.
func ConfigurePDF(licenseKey string, log logrus.FieldLogger) {
	if licenseKey == "" {
		log.Debug("no UNIDOC_LICENSE_KEY set, using the fallback PDF reader")
		return
	}
	if err := license.SetMeteredKey(licenseKey); err != nil {
		log.WithError(err).Warn("failed to set UniDoc license key, using the fallback PDF reader")
		return
	}
	unipdfEnabled.Store(true)
}

// compressedExts maps a compression suffix to its decoder.
var compressedExts = map[string]func(io.Reader) (io.ReadCloser, error){
	".gz": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	".zst": func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	},
	".lz4": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
}

// ContentExt returns the lower-cased extension of name after stripping any
// compression suffix, so "notes.txt.gz" yields ".txt".
func ContentExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if _, ok := compressedExts[ext]; ok {
		return strings.ToLower(path.Ext(strings.TrimSuffix(name, path.Ext(name))))
	}
	return ext
}

// ExtractText reads the full textual content of the entry called name.
// Compressed entries are decoded first; PDFs go through a PDF text extractor;
// everything else must be valid UTF-8 text.
func ExtractText(name string, r io.Reader) (string, error) {
	ext := strings.ToLower(path.Ext(name))
	if open, ok := compressedExts[ext]; ok {
		dr, err := open(r)
		if err != nil {
			return "", fmt.Errorf("open %s stream: %w", ext, err)
		}
		defer dr.Close()
		return ExtractText(strings.TrimSuffix(name, path.Ext(name)), dr)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if ext == ".pdf" {
		return extractTextFromPDF(data)
	}
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8 text")
	}
	return string(data), nil
}

func extractTextFromPDF(data []byte) (text string, err error) {
	if unipdfEnabled.Load() {
		return extractWithUnipdf(data)
	}
	// ledongthuc/pdf panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract pdf text: %v", r)
		}
	}()
	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func extractWithUnipdf(data []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", err
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", err
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}
