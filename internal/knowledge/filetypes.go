// Package knowledge describes which documents the retrieval pipeline can
// ingest. Parsing itself belongs to the extraction library; this package only
// decides which reader a file is routed to.
package knowledge

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

// Reader names the extractor a file is handed to.
type Reader string

const (
	// ReaderUnstructured covers every extension in the support matrix.
	ReaderUnstructured Reader = "unstructured"
	// ReaderPlainText is the fallback for unlisted files whose content is text.
	ReaderPlainText Reader = "plain-text"
	// ReaderUnsupported marks files that will not be indexed.
	ReaderUnsupported Reader = "unsupported"
)

// ErrUnsupported is returned for files no reader can handle.
var ErrUnsupported = errors.New("unsupported file type")

// Category groups related extensions for display.
type Category struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

var categories = []Category{
	{Name: "Documents", Extensions: []string{".pdf", ".docx", ".doc", ".txt", ".md", ".html", ".htm", ".rtf"}},
	{Name: "Presentations", Extensions: []string{".pptx", ".ppt"}},
	{Name: "Spreadsheets", Extensions: []string{".xlsx", ".xls", ".csv"}},
	{Name: "Configuration", Extensions: []string{".json", ".xml", ".yaml", ".yml", ".conf", ".config", ".ini"}},
	{Name: "Scripts", Extensions: []string{".ps1", ".sh", ".bat", ".cmd", ".py"}},
	{Name: "Logs", Extensions: []string{".log"}},
	{Name: "Email", Extensions: []string{".eml", ".msg"}},
	{Name: "Images", Extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff"}},
	{Name: "OpenDocument", Extensions: []string{".odt", ".ods", ".odp"}},
}

var categoryByExt = func() map[string]string {
	index := make(map[string]string)
	for _, c := range categories {
		for _, ext := range c.Extensions {
			index[ext] = c.Name
		}
	}
	return index
}()

// Categories returns a copy of the support matrix.
func Categories() []Category {
	return lo.Map(categories, func(c Category, _ int) Category {
		return Category{Name: c.Name, Extensions: append([]string(nil), c.Extensions...)}
	})
}

// Extensions returns every supported extension in matrix order.
func Extensions() []string {
	return lo.FlatMap(categories, func(c Category, _ int) []string {
		return c.Extensions
	})
}

// Lookup resolves an extension (with or without the dot, any case).
func Lookup(ext string) (category string, ok bool) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	category, ok = categoryByExt[ext]
	return category, ok
}

// Classification is the routing decision for one file.
type Classification struct {
	Category string `json:"category"`
	Reader   Reader `json:"reader"`
	MIME     string `json:"mime,omitempty"`
}

// Classify routes a file to a reader: listed extensions go to the
// unstructured extractor, anything else is sniffed and accepted as plain
// text only when its content is textual.
func Classify(path string) (Classification, error) {
	if category, ok := Lookup(filepath.Ext(path)); ok {
		return Classification{Category: category, Reader: ReaderUnstructured}, nil
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return Classification{}, errors.Wrapf(err, "detect content type of %s", path)
	}
	if isText(mime) {
		return Classification{Category: "Other text", Reader: ReaderPlainText, MIME: mime.String()}, nil
	}
	return Classification{Reader: ReaderUnsupported, MIME: mime.String()},
		errors.Wrapf(ErrUnsupported, "%s (%s)", filepath.Base(path), mime.String())
}

func isText(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Describe renders the support matrix with six extensions per row.
func Describe() string {
	var b strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&b, "%s:\n", c.Name)
		for _, row := range lo.Chunk(c.Extensions, 6) {
			fmt.Fprintf(&b, "   %s\n", strings.Join(row, ", "))
		}
	}
	return b.String()
}
