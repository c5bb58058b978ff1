package services

import (
	"context"
	"database/sql"
	"testing"

	"muni-portal/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "water-and-sanitation", Slugify("Water and Sanitation"))
	assert.Equal(t, "ward-3-councillor", Slugify("Ward 3: Councillor!"))
	assert.Equal(t, "notices", Slugify("  Notices  "))
	assert.Equal(t, "", Slugify("???"))
}

func TestCreatePageRejectsUnknownType(t *testing.T) {
	svc := NewPageService(nil)

	_, err := svc.CreatePage(context.Background(), CreatePageInput{
		Type:  models.PageType("blog_post"),
		Title: "Blog",
	})
	require.ErrorIs(t, err, ErrInvalidPageType)
}

func TestCreatePageRootMustBeHome(t *testing.T) {
	svc := NewPageService(nil)

	_, err := svc.CreatePage(context.Background(), CreatePageInput{
		Type:  models.PageTypeService,
		Title: "Water",
	})
	require.ErrorIs(t, err, ErrRootMustBeHome)
}

func TestAllowsChildWhitelist(t *testing.T) {
	assert.True(t, models.PageTypeHome.AllowsChild(models.PageTypeServicesIndex))
	assert.True(t, models.PageTypeServicesIndex.AllowsChild(models.PageTypeService))
	assert.True(t, models.PageTypeService.AllowsChild(models.PageTypeServicePoint))
	assert.True(t, models.PageTypeNoticeIndex.AllowsChild(models.PageTypeNotice))

	assert.False(t, models.PageTypeHome.AllowsChild(models.PageTypeNotice))
	assert.False(t, models.PageTypeService.AllowsChild(models.PageTypeService))
	// Leaf types accept no children at all.
	assert.False(t, models.PageTypeNotice.AllowsChild(models.PageTypeNotice))
	assert.False(t, models.PageTypeCouncillor.AllowsChild(models.PageTypePerson))
}

func TestMaxCountPerParent(t *testing.T) {
	assert.Equal(t, 1, models.MaxCountPerParent(models.PageTypeServicesIndex))
	assert.Equal(t, 1, models.MaxCountPerParent(models.PageTypeMyMuni))
	assert.Equal(t, 1, models.MaxCountPerParent(models.PageTypeCouncillorList))
	// Unlimited types report zero.
	assert.Equal(t, 0, models.MaxCountPerParent(models.PageTypeService))
	assert.Equal(t, 0, models.MaxCountPerParent(models.PageTypeNotice))
}

func TestPageTypeValid(t *testing.T) {
	assert.True(t, models.PageType("home").Valid())
	assert.True(t, models.PageType("councillor_group").Valid())
	assert.False(t, models.PageType("").Valid())
	assert.False(t, models.PageType("article").Valid())
}

func newMockPageService(t *testing.T) (*PageService, sqlmock.Sqlmock) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	return NewPageService(bun.NewDB(sqldb, pgdialect.New())), mock
}

func pageRow(id int64, parentID any, pageType, slug string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "parent_id", "page_type", "slug", "live"}).
		AddRow(id, parentID, pageType, slug, true)
}

func TestFindByPathWalksSlugSegments(t *testing.T) {
	svc, mock := newMockPageService(t)

	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(1, nil, "home", "home"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(2, int64(1), "services_index", "services"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(3, int64(2), "service", "water"))

	page, err := svc.FindByPath(context.Background(), "/services/water/")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(3), page.ID)
	assert.Equal(t, "water", page.Slug)
}

func TestFindByPathEmptyResolvesHome(t *testing.T) {
	svc, mock := newMockPageService(t)

	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(1, nil, "home", "home"))

	page, err := svc.FindByPath(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.ID)
}

func TestFindByPathUnknownSegment(t *testing.T) {
	svc, mock := newMockPageService(t)

	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(1, nil, "home", "home"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.FindByPath(context.Background(), "/nope/")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestURLPathJoinsAncestorSlugs(t *testing.T) {
	svc, mock := newMockPageService(t)

	parentID := int64(2)
	page := &models.Page{ID: 3, ParentID: &parentID, Slug: "water"}

	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(2, int64(1), "services_index", "services"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(1, nil, "home", "home"))

	path, err := svc.URLPath(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "/services/water/", path)
}

func TestMovePageRejectsOwnDescendant(t *testing.T) {
	svc, mock := newMockPageService(t)

	// Moving services (2) under water (3), where water sits inside the
	// services subtree.
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(2, int64(1), "services_index", "services"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(3, int64(2), "service", "water"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(2, int64(1), "services_index", "services"))

	_, err := svc.MovePage(context.Background(), 2, 3)
	assert.ErrorIs(t, err, ErrMoveIntoSubtree)
}

func TestMovePageRejectsSelf(t *testing.T) {
	svc, mock := newMockPageService(t)

	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(2, int64(1), "services_index", "services"))
	mock.ExpectQuery(`SELECT (.+) FROM "pages"`).
		WillReturnRows(pageRow(2, int64(1), "services_index", "services"))

	_, err := svc.MovePage(context.Background(), 2, 2)
	assert.ErrorIs(t, err, ErrMoveIntoSubtree)
}

func TestURLPathRootIsSlash(t *testing.T) {
	svc := NewPageService(nil)

	path, err := svc.URLPath(context.Background(), &models.Page{ID: 1, Slug: "home"})
	require.NoError(t, err)
	assert.Equal(t, "/", path)
}
