package database

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"certgen/internal/layout"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func validLayout() *layout.Config {
	cfg := layout.New(layout.Canvas{Width: 1000, Height: 700})
	for _, id := range layout.RequiredIDs(layout.NamespaceCertificate) {
		cfg.Certificate.TextLayers = append(cfg.Certificate.TextLayers, layout.TextLayer{ID: id, Visible: true, FontSize: 20})
	}
	return cfg
}

func TestLayoutStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	templates := NewTemplateStore(db)
	layouts := NewLayoutStore(db)
	fixed := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	layouts.now = func() time.Time { return fixed }

	tpl := &Template{Title: "Workshop", ImagePath: "templates/1/bg.png", ImageWidth: 1000, ImageHeight: 700}
	require.NoError(t, templates.Create(ctx, tpl))

	got, err := layouts.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "no layout saved yet")

	require.NoError(t, layouts.Save(ctx, tpl.ID, validLayout()))

	got, err = layouts.Get(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Certificate.TextLayers, 3)
	assert.Equal(t, fixed, got.LastSavedAt.UTC())
	certNo, ok := got.Certificate.TextLayer(layout.FieldCertificateNo)
	require.True(t, ok)
	assert.True(t, certNo.LocksAlignment, "system fields decode as locked")

	stored, err := templates.Get(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LayoutSavedAt)
}

func TestLayoutStoreRejectsMissingRequiredFields(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tpl := &Template{Title: "t"}
	require.NoError(t, NewTemplateStore(db).Create(ctx, tpl))

	cfg := validLayout()
	cfg.Certificate.TextLayers = cfg.Certificate.TextLayers[:1]

	err := NewLayoutStore(db).Save(ctx, tpl.ID, cfg)
	var missing *layout.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{layout.FieldCertificateNo, layout.FieldIssueDate}, missing.Missing)
}

func TestLayoutStoreUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	layouts := NewLayoutStore(db)

	_, err := layouts.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.ErrorIs(t, layouts.Save(ctx, 42, validLayout()), ErrTemplateNotFound)
}

func TestLayoutStoreMigratesLegacyDocument(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	legacy := `{"certificate":{"textLayers":[{"id":"name","x":500,"y":350,"fontSize":35}]},"canvas":{"width":1000,"height":700}}`
	tpl := &Template{Title: "legacy", Layout: datatypes.JSON(legacy)}
	require.NoError(t, NewTemplateStore(db).Create(ctx, tpl))

	got, err := NewLayoutStore(db).Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.CurrentVersion, got.Version)
	assert.NotNil(t, got.Certificate.QRLayers)
	assert.InDelta(t, 0.05, got.Certificate.TextLayers[0].FontSizePercent, 1e-9)
}

func TestMemberStoreList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	members := NewMemberStore(db)
	require.NoError(t, members.CreateBatch(ctx, []Member{
		{Name: "A", ScoreData: datatypes.JSONMap{"grade": "A"}},
		{Name: "B"},
		{Name: "C"},
	}))

	all, err := members.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].ScoreData["grade"])

	some, err := members.List(ctx, []uint{all[2].ID, all[0].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, []string{some[0].Name, some[1].Name})
}

func TestCertificateStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	certs := NewCertificateStore(db)

	cert := &Certificate{TemplateID: 1, JobID: "job-1", CertificateNo: "CERT-202401-0001", RecipientName: "Ayu"}
	require.NoError(t, certs.Create(ctx, cert))
	assert.Error(t, certs.Create(ctx, &Certificate{CertificateNo: "CERT-202401-0001"}), "numbers are unique")

	found, err := certs.FindByNumber(ctx, "CERT-202401-0001")
	require.NoError(t, err)
	assert.Equal(t, cert.ID, found.ID)

	_, err = certs.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrCertificateNotFound)

	list, err := certs.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	jobs := NewJobStore(db)

	require.NoError(t, jobs.Create(ctx, &GenerationJob{ID: "j1", TemplateID: 3, Source: "members"}))
	require.NoError(t, jobs.MarkRunning(ctx, "j1", 5))
	require.NoError(t, jobs.Progress(ctx, "j1", 2, 1))
	require.NoError(t, jobs.Finish(ctx, "j1", JobStatusDone, 4, 1, 5, 4001, ""))

	job, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, 4, job.Generated)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, 4001, job.ErrorCode)
	assert.NotNil(t, job.FinishedAt)

	assert.ErrorIs(t, jobs.Progress(ctx, "missing", 0, 0), ErrJobNotFound)
}
