//go:build !windows

package history

import (
	"os"

	"github.com/google/renameio/v2"
)

// writeFileAtomic replaces filename via temp file + rename so readers never
// observe a partially written session.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(filename, data, perm)
}
