package knowledge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, dataDir, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(dataDir, nil).RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestFileTypes(t *testing.T) {
	rec := serve(t, t.TempDir(), "/knowledge/filetypes")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Categories []struct {
			Name       string   `json:"name"`
			Extensions []string `json:"extensions"`
		} `json:"categories"`
		Extensions []string `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Categories, 9)
	assert.Equal(t, "Documents", body.Categories[0].Name)
	assert.Contains(t, body.Extensions, ".pptx")
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vpn-guide.md"), []byte("# VPN"), 0o644))

	rec := serve(t, dir, "/knowledge/files")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Files []struct {
			Path   string `json:"path"`
			Reader string `json:"reader"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Files, 1)
	assert.Equal(t, "vpn-guide.md", body.Files[0].Path)
	assert.Equal(t, "unstructured", body.Files[0].Reader)
}

func TestFilesMissingDirectory(t *testing.T) {
	rec := serve(t, filepath.Join(t.TempDir(), "nope"), "/knowledge/files")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"files":[]`)
}
