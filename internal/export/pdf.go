package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/creator"
	"github.com/unidoc/unipdf/v3/model"
)

// Provider renders a transcript into a shareable document and returns its
// location.
type Provider interface {
	RenderDocument(title string, date time.Time, text string) (string, error)
}

// SetLicenseKey registers the unidoc metered license key. Must be called
// once before any PDF render; an empty key is left for unipdf to reject at
// render time.
func SetLicenseKey(key string) error {
	if key == "" {
		return nil
	}
	return license.SetMeteredKey(key)
}

// PDFExporter renders a US Letter PDF with a title, date line, and the
// transcript body.
type PDFExporter struct {
	outDir string
}

// NewPDFExporter writes rendered documents into outDir; an empty outDir
// falls back to the system temp directory.
func NewPDFExporter(outDir string) *PDFExporter {
	if outDir == "" {
		outDir = os.TempDir()
	}
	return &PDFExporter{outDir: outDir}
}

// RenderDocument implements Provider.
func (e *PDFExporter) RenderDocument(title string, date time.Time, text string) (string, error) {
	titleFont, err := model.NewStandard14Font(model.HelveticaBoldName)
	if err != nil {
		return "", fmt.Errorf("load title font: %w", err)
	}
	bodyFont, err := model.NewStandard14Font(model.HelveticaName)
	if err != nil {
		return "", fmt.Errorf("load body font: %w", err)
	}

	c := creator.New()
	c.SetPageSize(creator.PageSizeLetter)
	c.SetPageMargins(36, 36, 36, 36)

	heading := c.NewParagraph(title)
	heading.SetFont(titleFont)
	heading.SetFontSize(18)
	if err := c.Draw(heading); err != nil {
		return "", fmt.Errorf("draw title: %w", err)
	}

	subtitle := c.NewParagraph(date.Format("Jan 2, 2006 3:04 PM"))
	subtitle.SetFont(bodyFont)
	subtitle.SetFontSize(11)
	subtitle.SetColor(creator.ColorRGBFrom8bit(110, 110, 110))
	subtitle.SetMargins(0, 0, 8, 16)
	if err := c.Draw(subtitle); err != nil {
		return "", fmt.Errorf("draw date: %w", err)
	}

	body := c.NewParagraph(strings.TrimSpace(text))
	body.SetFont(bodyFont)
	body.SetFontSize(12)
	body.SetLineHeight(1.4)
	if err := c.Draw(body); err != nil {
		return "", fmt.Errorf("draw transcript: %w", err)
	}

	if err := os.MkdirAll(e.outDir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	outPath := filepath.Join(e.outDir, fmt.Sprintf("Lecture-Export-%s.pdf", uuid.NewString()))
	if err := c.WriteToFile(outPath); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return outPath, nil
}
