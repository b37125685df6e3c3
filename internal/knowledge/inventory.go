package knowledge

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// File is one document found in the knowledge-base directory.
type File struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"sizeHuman"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Classification
	Note string `json:"note,omitempty"`
}

// Inventory is the result of scanning the knowledge-base directory.
type Inventory struct {
	Root        string         `json:"root"`
	Files       []File         `json:"files"`
	ByReader    map[Reader]int `json:"byReader"`
	TotalSize   int64          `json:"totalSize"`
	TotalHuman  string         `json:"totalHuman"`
	Unsupported int            `json:"unsupported"`
}

// Scan walks root and classifies every regular file. Hidden files and
// directories are skipped. A missing root yields an empty inventory.
func Scan(ctx context.Context, root string) (Inventory, error) {
	inv := Inventory{Root: root, Files: []File{}, ByReader: map[Reader]int{}}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, os.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		file := File{
			Path:       filepath.ToSlash(rel),
			Size:       info.Size(),
			SizeHuman:  humanize.Bytes(uint64(info.Size())),
			ModifiedAt: info.ModTime().UTC(),
		}
		classification, classifyErr := Classify(path)
		file.Classification = classification
		if classifyErr != nil {
			file.Reader = ReaderUnsupported
			file.Note = classifyErr.Error()
		}

		inv.Files = append(inv.Files, file)
		inv.ByReader[file.Reader]++
		inv.TotalSize += file.Size
		if file.Reader == ReaderUnsupported {
			inv.Unsupported++
		}
		return nil
	})
	if err != nil {
		return Inventory{}, errors.Wrapf(err, "scan knowledge directory %s", root)
	}

	inv.TotalHuman = humanize.Bytes(uint64(inv.TotalSize))
	return inv, nil
}
