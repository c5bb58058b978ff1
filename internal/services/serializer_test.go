package services

import (
	"context"
	"testing"

	"muni-portal/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func newTestSerializer() *PageSerializer {
	return NewPageSerializer(nil, NewPageService(nil))
}

func TestImageDanglingReferenceIsNil(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, pgdialect.New())
	s := NewPageSerializer(db, NewPageService(db))

	mock.ExpectQuery(`SELECT (.+) FROM "images"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "file", "width", "height", "title"}))

	img, err := s.image(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestRenderRichTextMarkdown(t *testing.T) {
	s := newTestSerializer()

	html := s.renderRichText("**Open** Mondays")
	assert.Contains(t, html, "<strong>Open</strong>")
}

func TestRenderRichTextStripsScripts(t *testing.T) {
	s := newTestSerializer()

	html := s.renderRichText("hello <script>alert(1)</script> world")
	assert.NotContains(t, html, "<script")
	assert.Contains(t, html, "hello")
	assert.Contains(t, html, "world")
}

func TestRenderRichTextEmpty(t *testing.T) {
	s := newTestSerializer()
	assert.Equal(t, "", s.renderRichText(""))
}

func TestThumbnailPayloadScalesDown(t *testing.T) {
	img := &models.Image{ID: 5, File: "images/a.png", Width: 400, Height: 200, Title: "Crest"}

	thumb := thumbnailPayload(img)
	assert.Equal(t, 100, thumb.Width)
	assert.Equal(t, 50, thumb.Height)
	assert.Equal(t, "/media/images/5/rendition?spec=max-100x100", thumb.URL)
	assert.Equal(t, "Crest", thumb.Alt)
}

func TestThumbnailPayloadPortrait(t *testing.T) {
	img := &models.Image{ID: 6, Width: 200, Height: 400, Title: "Portrait"}

	thumb := thumbnailPayload(img)
	assert.Equal(t, 50, thumb.Width)
	assert.Equal(t, 100, thumb.Height)
}

func TestThumbnailPayloadSmallImageKeepsSize(t *testing.T) {
	img := &models.Image{ID: 7, Width: 80, Height: 60, Title: "Icon"}

	thumb := thumbnailPayload(img)
	assert.Equal(t, 80, thumb.Width)
	assert.Equal(t, 60, thumb.Height)
}

func TestImagePayloadUsesStoredPath(t *testing.T) {
	img := &models.Image{ID: 8, File: "images/crest.png", Width: 400, Height: 200, Title: "Crest"}

	payload := imagePayload(img)
	assert.Equal(t, "/media/images/crest.png", payload.URL)
	assert.Equal(t, 400, payload.Width)
	assert.Equal(t, 200, payload.Height)
}
