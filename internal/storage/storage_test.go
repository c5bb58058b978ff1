package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRead(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("attachments", "photo of pothole.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, "attachments/"))
	assert.Contains(t, rel, "photo_of_pothole.png")

	data, err := store.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestSaveUniqueNames(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	a, err := store.Save("attachments", "same.txt", strings.NewReader("one"))
	require.NoError(t, err)
	b, err := store.Save("attachments", "same.txt", strings.NewReader("two"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpenStreamsContents(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("images", "logo.png", strings.NewReader("logo-bytes"))
	require.NoError(t, err)

	f, err := store.Open(rel)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "logo-bytes", string(data))
}

func TestOpenRejectsTraversal(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("../../etc/passwd")
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b.txt", sanitizeFilename("a b.txt"))
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "upload", sanitizeFilename(""))
}
