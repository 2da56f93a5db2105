package corpus

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jsdbase/internal/curve"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

func quietLoader(fs afero.Fs, root string) *Loader {
	return NewLoader(fs, root).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/corpus/truth.txt":         "EN002 N\nEN001 Y\n\n",
		"/corpus/EN001/known02.txt": "second",
		"/corpus/EN001/known01.txt": "first",
		"/corpus/EN001/unknown.txt": "questioned one",
		"/corpus/EN002/known01.txt": "only",
		"/corpus/EN002/unknown.txt": "questioned two",
		"/corpus/EN002/notes.txt":   "ignored",
	})

	cases, skipped, err := quietLoader(fs, "/corpus").Load()
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, cases, 2)

	assert.Equal(t, "EN002", cases[0].ID)
	assert.Equal(t, curve.DifferentAuthor, cases[0].Label)
	assert.Equal(t, []string{"only"}, cases[0].Known)

	assert.Equal(t, "EN001", cases[1].ID)
	assert.Equal(t, curve.SameAuthor, cases[1].Label)
	assert.Equal(t, []string{"first", "second"}, cases[1].Known)
	assert.Equal(t, "questioned one", cases[1].Unknown)
}

func TestLoadSkipsBrokenCases(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/c/truth.txt":             "ok N\nnoknown N\nnounknown Y\n",
		"/c/ok/known01.txt":        "k",
		"/c/ok/unknown.txt":        "u",
		"/c/noknown/unknown.txt":   "u",
		"/c/nounknown/known01.txt": "k",
	})

	cases, skipped, err := quietLoader(fs, "/c").Load()
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "ok", cases[0].ID)

	require.Len(t, skipped, 2)
	assert.Equal(t, "noknown", skipped[0].CaseID)
	assert.True(t, errors.Is(skipped[0], ErrMissingKnown))
	assert.Equal(t, "nounknown", skipped[1].CaseID)
	assert.True(t, errors.Is(skipped[1], ErrMissingUnknown))
	assert.Contains(t, skipped[1].Error(), "case nounknown")
}

func TestTruthErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := quietLoader(fs, "/missing").Truth()
	assert.ErrorIs(t, err, ErrMissingTruth)

	writeFiles(t, fs, map[string]string{"/bad/truth.txt": "EN001 Y extra\n"})
	_, err = quietLoader(fs, "/bad").Truth()
	assert.Error(t, err)

	writeFiles(t, fs, map[string]string{"/label/truth.txt": "EN001 maybe\n"})
	_, _, err = quietLoader(fs, "/label").Load()
	assert.Error(t, err)
}

func TestNewLoaderDefaultsToOsFs(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader(nil, dir).Truth()
	assert.ErrorIs(t, err, ErrMissingTruth)
}
