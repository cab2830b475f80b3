package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"certgen/internal/database"
	"certgen/internal/errcode"
	"certgen/internal/fonts"
	"certgen/internal/generation"
	"certgen/internal/layout"
	"certgen/internal/tasks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func uintString(v uint) string { return strconv.FormatUint(uint64(v), 10) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

type fakeDimensions struct {
	w, h int
}

func (f fakeDimensions) Dimensions(context.Context, string) (int, int, error) { return f.w, f.h, nil }

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

// fakeMeasurer 按字符数估算文本宽度。
type fakeMeasurer struct{}

func (fakeMeasurer) MeasureBlock(spec fonts.Spec, text string, maxWidth float64) float64 {
	return min(float64(len(text))*spec.Size/2, maxWidth)
}

// fakeCanceller 模拟 asynq.Inspector：active 中的任务不能删除。
type fakeCanceller struct {
	ids     []string
	deleted []string
	active  map[string]bool
}

func (f *fakeCanceller) DeleteTask(queue, id string) error {
	if f.active[id] {
		return errors.New("asynq: cannot delete task in active state")
	}
	f.deleted = append(f.deleted, queue+"/"+id)
	return nil
}

func (f *fakeCanceller) CancelProcessing(id string) error {
	f.ids = append(f.ids, id)
	return nil
}

type testServer struct {
	router    *gin.Engine
	db        *gorm.DB
	templates *database.TemplateStore
	queue     *fakeQueue
	cancel    *fakeCanceller
	storage   *fakeStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	s := &testServer{
		db:        db,
		templates: database.NewTemplateStore(db),
		queue:     &fakeQueue{},
		cancel:    &fakeCanceller{},
		storage:   newFakeStorage(),
	}
	layouts := database.NewLayoutStore(db)
	jobs := database.NewJobStore(db)
	certs := database.NewCertificateStore(db)

	router := NewRouter(nil, discardLogger())
	RegisterRoutes(router, Handlers{
		Templates:      NewTemplateHandler(s.templates, layouts, fakeDimensions{200, 100}, fakeMeasurer{}),
		Assets:         &AssetHandler{Storage: s.storage, Templates: s.templates},
		Jobs:           NewJobHandler(s.templates, jobs, certs, s.queue, s.cancel, s.storage, time.Minute),
		Preview:        NewPreviewHandler(s.templates, layouts, fakeBackgrounds{}, fakeFaces{}, time.Second, 50),
		Certificates:   NewCertificateHandler(certs, s.storage, fakePDF{}),
		Members:        NewMemberHandler(database.NewMemberStore(db)),
		InternalSecret: "s3cret",
	})
	s.router = router
	return s
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createTemplate(t *testing.T, imagePath string) uint {
	t.Helper()
	tpl := database.Template{Title: "Workshop", ImagePath: imagePath, ImageWidth: 100, ImageHeight: 50}
	require.NoError(t, s.templates.Create(context.Background(), &tpl))
	return tpl.ID
}

const layoutJSON = `{
  "canvas": {"width": 100, "height": 50},
  "certificate": {"textLayers": [
    {"id": "name", "x": 50, "y": 25, "xPercent": 0.5, "yPercent": 0.5, "fontSize": 10, "fontSizePercent": 0.2, "visible": true},
    {"id": "certificate_no", "x": 10, "y": 10, "xPercent": 0.1, "yPercent": 0.2, "fontSize": 5, "visible": true},
    {"id": "issue_date", "x": 10, "y": 40, "xPercent": 0.1, "yPercent": 0.8, "fontSize": 5, "visible": true}
  ]}
}`

func TestLayoutRoundTrip(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")
	path := "/v1/templates/" + uintString(id) + "/layout"

	w := s.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"layout":null`)

	w = s.do(http.MethodPut, path, layoutJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Layout layout.Config `json:"layout"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Layout.Certificate.TextLayers, 3)
	assert.False(t, got.Layout.LastSavedAt.IsZero())

	w = s.do(http.MethodPut, "/v1/templates/999/layout", layoutJSON)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveLayoutMissingFields(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")

	body := `{"canvas":{"width":100,"height":50},"certificate":{"textLayers":[{"id":"name","fontSize":10}]}}`
	w := s.do(http.MethodPut, "/v1/templates/"+uintString(id)+"/layout", body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Code    int `json:"code"`
		Details struct {
			Missing []string `json:"missing"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errcode.ValidationFailed, resp.Code)
	assert.Equal(t, []string{"certificate_no", "issue_date"}, resp.Details.Missing)

	w = s.do(http.MethodGet, "/v1/templates/"+uintString(id)+"/layout", "")
	assert.Contains(t, w.Body.String(), `"layout":null`, "rejected saves leave the stored layout unchanged")
}

func TestApplyLayoutEvents(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")
	path := "/v1/templates/" + uintString(id) + "/layout"
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, path, layoutJSON).Code)

	events := `{"events": [
	  {"type": "pointer_down", "pointerId": 1, "layer": {"namespace": "certificate", "kind": "text", "id": "name"}, "x": 50, "y": 25},
	  {"type": "pointer_move", "pointerId": 1, "x": 60, "y": 30},
	  {"type": "pointer_up", "pointerId": 1},
	  {"type": "add_text", "layer": {"namespace": "certificate"}, "text": "Peserta"}
	]}`
	w := s.do(http.MethodPost, path+"/events", events)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		Layout   layout.Config `json:"layout"`
		Selected struct {
			Kind string `json:"kind"`
			ID   string `json:"id"`
		} `json:"selected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Layout.Certificate.TextLayers, 4)
	assert.False(t, got.Layout.LastSavedAt.IsZero())
	assert.Equal(t, "text", got.Selected.Kind)
	assert.Equal(t, "text-4", got.Selected.ID)
	name, ok := got.Layout.Certificate.TextLayer("name")
	require.True(t, ok)
	assert.InDelta(t, 60, name.X, 0.01)
	assert.InDelta(t, 30, name.Y, 0.01)
	assert.InDelta(t, 0.6, name.XPercent, 0.001)

	// 删除必需图层被拒绝：422，已存布局不变。
	w = s.do(http.MethodPost, path+"/events", `{"events": [
	  {"type": "set_text", "layer": {"namespace": "certificate", "kind": "text", "id": "text-4"}, "text": "changed"},
	  {"type": "delete", "layer": {"namespace": "certificate", "kind": "text", "id": "certificate_no"}}
	]}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var fail struct {
		Code    int `json:"code"`
		Details struct {
			Event int `json:"event"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fail))
	assert.Equal(t, errcode.ValidationFailed, fail.Code)
	assert.Equal(t, 1, fail.Details.Event)

	w = s.do(http.MethodGet, path, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Layout.Certificate.TextLayers, 4)
	added, ok := got.Layout.Certificate.TextLayer("text-4")
	require.True(t, ok)
	assert.Equal(t, "Peserta", added.DefaultText)

	w = s.do(http.MethodPost, "/v1/templates/999/layout/events", `{"events": [{"type": "click_canvas"}]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRenormalizeLayout(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/v1/templates/"+uintString(id)+"/layout", layoutJSON).Code)

	w := s.do(http.MethodPost, "/v1/templates/"+uintString(id)+"/layout/renormalize", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		Layout layout.Config `json:"layout"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, layout.Canvas{Width: 200, Height: 100}, got.Layout.Canvas)
	name, ok := got.Layout.Certificate.TextLayer("name")
	require.True(t, ok)
	assert.InDelta(t, 100, name.X, 0.5)
	assert.InDelta(t, 50, name.Y, 0.5)
}

func TestCreateJobEnqueuesTask(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")

	w := s.do(http.MethodPost, "/v1/templates/"+uintString(id)+"/jobs",
		`{"member_ids":[1,2],"issue_date":" 2024-01-15 ","extra":{"venue":"Jakarta"}}`,
		"X-Correlation-ID", "corr-1")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, database.JobStatusQueued, resp.Status)
	assert.Equal(t, "0/0", resp.Result)

	require.Len(t, s.queue.tasks, 1)
	assert.Equal(t, tasks.TypeGenerationBatch, s.queue.tasks[0].Type())
	var payload tasks.GenerationPayload
	require.NoError(t, json.Unmarshal(s.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, resp.ID, payload.JobID)
	assert.Equal(t, []uint{1, 2}, payload.MemberIDs)
	assert.Equal(t, "2024-01-15", payload.IssueDate)
	assert.Equal(t, "Jakarta", payload.Extra["venue"])
	assert.Equal(t, "corr-1", payload.CorrelationID)
	assert.Equal(t, generation.SourceMembers, payload.Source)

	w = s.do(http.MethodGet, "/v1/jobs/"+resp.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/v1/templates/999/jobs", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, s.queue.tasks, 1)
}

func TestCreateJobFromSpreadsheet(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")

	body, ct := newMultipartUpload(t, map[string]string{"issue_date": "2024-01-15"}, "list.csv", []byte("name\nAyu\n"))
	req := httptest.NewRequest(http.MethodPost, "/v1/templates/"+uintString(id)+"/jobs", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var payload tasks.GenerationPayload
	require.NoError(t, json.Unmarshal(s.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, generation.SourceSpreadsheet, payload.Source)
	assert.Equal(t, "list.csv", payload.SheetName)
	assert.Equal(t, []byte("name\nAyu\n"), s.storage.uploaded[payload.SheetKey])
}

func TestCancelJobRequiresSecret(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")
	w := s.do(http.MethodPost, "/v1/templates/"+uintString(id)+"/jobs", `{}`)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = s.do(http.MethodPost, "/v1/internal/jobs/"+resp.ID+"/cancel", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/internal/jobs/"+resp.ID+"/cancel", "", "X-Internal-Secret", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"default/" + resp.ID}, s.cancel.deleted)
	assert.Empty(t, s.cancel.ids)

	job, err := database.NewJobStore(s.db).Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.FinishedAt)

	w = s.do(http.MethodPost, "/v1/internal/jobs/"+resp.ID+"/cancel", "", "X-Internal-Secret", "s3cret")
	assert.Equal(t, http.StatusConflict, w.Code, "a cancelled job cannot be cancelled again")
}

func TestCancelRunningJobSignalsWorker(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")
	w := s.do(http.MethodPost, "/v1/templates/"+uintString(id)+"/jobs", `{}`)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NoError(t, database.NewJobStore(s.db).MarkRunning(context.Background(), resp.ID, 5))
	s.cancel.active = map[string]bool{resp.ID: true}

	w = s.do(http.MethodPost, "/v1/internal/jobs/"+resp.ID+"/cancel", "", "X-Internal-Secret", "s3cret")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{resp.ID}, s.cancel.ids)
	assert.Empty(t, s.cancel.deleted)

	job, err := database.NewJobStore(s.db).Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusRunning, job.Status, "the worker records the final state")
}

func TestVerifyCertificate(t *testing.T) {
	s := newTestServer(t)
	store := database.NewCertificateStore(s.db)
	cert := &database.Certificate{
		TemplateID:    1,
		CertificateNo: "CERT-202401-0001",
		RecipientName: "Ayu",
		IssueDate:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ExpiredDate:   time.Date(2099, 1, 15, 0, 0, 0, 0, time.UTC),
		ImagePath:     "certificates/1/CERT-202401-0001.png",
	}
	require.NoError(t, store.Create(context.Background(), cert))

	w := s.do(http.MethodGet, "/cek/CERT-202401-0001", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)
	assert.Contains(t, w.Body.String(), `"issue_date":"2024-01-15"`)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/cek/NOPE", "").Code)

	w = s.do(http.MethodGet, "/v1/certificates/"+uintString(cert.ID)+"/pdf", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "image missing from storage")

	s.storage.uploaded[cert.ImagePath] = pngBytes(t, 20, 10)
	w = s.do(http.MethodGet, "/v1/certificates/"+uintString(cert.ID)+"/pdf", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF 20x10", w.Body.String())
}

func TestImportMembers(t *testing.T) {
	s := newTestServer(t)
	body, ct := newMultipartUpload(t, nil, "members.csv", []byte("Name,Email\nAyu,a@x\n,b@x\nBudi,\n"))
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/members/import", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Internal-Secret", "s3cret")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Imported int   `json:"imported"`
		Skipped  []int `json:"skipped_lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Imported)
	assert.Equal(t, []int{3}, resp.Skipped)
}

type fakeBackgrounds struct{}

func (fakeBackgrounds) Load(context.Context, string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 100, 50)), nil
}

type fakeFaces struct{}

func (fakeFaces) RenderFace(_ context.Context, _ *layout.Config, _ layout.Namespace, bg image.Image, rec generation.Recipient) (*generation.Face, error) {
	img := image.NewRGBA(bg.Bounds())
	if rec.Certificate.CertificateNo != previewCertificateNo {
		return nil, context.DeadlineExceeded
	}
	return &generation.Face{Image: img}, nil
}

type fakePDF struct{}

func (fakePDF) FromPNG(_ context.Context, _ []byte, width, height int) ([]byte, error) {
	return []byte("%PDF " + uintString(uint(width)) + "x" + uintString(uint(height))), nil
}

func TestPreview(t *testing.T) {
	s := newTestServer(t)
	id := s.createTemplate(t, "assets/1/bg.png")
	path := "/v1/templates/" + uintString(id) + "/preview"

	w := s.do(http.MethodPost, path, `{"name":"Ayu"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, "no saved layout")

	w = s.do(http.MethodPost, path, `{"name":"Ayu","layout":`+layoutJSON+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = s.do(http.MethodPost, path+"?thumbnail=1", `{"name":"Ayu","layout":`+layoutJSON+`}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = s.do(http.MethodPost, path, `{"name":"Ayu","certificate_no":"X","layout":`+layoutJSON+`}`)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = s.do(http.MethodPost, path, `{"namespace":"score","layout":`+layoutJSON+`}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "template has no score background")
}
