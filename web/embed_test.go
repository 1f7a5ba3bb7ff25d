package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w.Code, string(body)
}

func TestHandlerServesEmbeddedIndex(t *testing.T) {
	t.Parallel()

	code, body := get(t, Handler(""), "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "lessond")
}

func TestHandlerServesDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>client</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	h := Handler(dir)

	code, body := get(t, h, "/app.js")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "console.log(1)", body)

	// Unknown routes fall back to the client.
	code, body = get(t, h, "/projects/3")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<p>client</p>")
}
