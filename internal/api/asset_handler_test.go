package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen/internal/database"
)

type fakeStorage struct {
	uploaded map[string][]byte
	types    map[string]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, contentType string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	s.types[objectName] = contentType
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey, nil
}

func (s *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := s.uploaded[key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type imageCall struct {
	id            uint
	path          string
	width, height int
	score         bool
}

type fakeImageSetter struct {
	calls []imageCall
}

func (f *fakeImageSetter) SetImage(_ context.Context, id uint, path string, width, height int, score bool) error {
	if id == 404 {
		return database.ErrTemplateNotFound
	}
	f.calls = append(f.calls, imageCall{id, path, width, height, score})
	return nil
}

type fakeScanner struct {
	clean bool
	err   error
}

func (s fakeScanner) Scan(io.Reader) (bool, error) { return s.clean, s.err }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newMultipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func serveUpload(h *AssetHandler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodPost, "/v1/assets/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	h.UploadAsset(c)
	return w
}

func TestUploadAssetBackground(t *testing.T) {
	storage := newFakeStorage()
	templates := &fakeImageSetter{}
	h := &AssetHandler{Storage: storage, Templates: templates, MaxBytes: 5 << 20}

	body, ct := newMultipartUpload(t, map[string]string{"template_id": "7", "role": "background"}, "bg.bin", pngBytes(t, 40, 30))
	w := serveUpload(h, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ObjectKey string `json:"objectKey"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ObjectKey, "assets/7/"))
	assert.True(t, strings.HasSuffix(resp.ObjectKey, ".png"), "extension follows the sniffed type")
	assert.True(t, isValidAssetObjectKey(resp.ObjectKey))
	assert.Equal(t, "image/png", storage.types[resp.ObjectKey])
	assert.Equal(t, []imageCall{{7, resp.ObjectKey, 40, 30, false}}, templates.calls)
}

func TestUploadAssetRejects(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		file    string
		content []byte
		scanner Scanner
		want    int
	}{
		{"missing template", map[string]string{}, "a.png", nil, nil, http.StatusBadRequest},
		{"bad role", map[string]string{"template_id": "1", "role": "logo"}, "a.png", nil, nil, http.StatusBadRequest},
		{"missing file", map[string]string{"template_id": "1"}, "", nil, nil, http.StatusBadRequest},
		{"unsupported type", map[string]string{"template_id": "1"}, "a.png", []byte("GIF89a......"), nil, http.StatusUnprocessableEntity},
		{"too large", map[string]string{"template_id": "1"}, "a.png", bytes.Repeat([]byte{0}, 2048), nil, http.StatusUnprocessableEntity},
		{"malicious", map[string]string{"template_id": "1"}, "a.png", nil, fakeScanner{clean: false}, http.StatusUnprocessableEntity},
		{"scanner down", map[string]string{"template_id": "1"}, "a.png", nil, fakeScanner{err: errors.New("dial")}, http.StatusInternalServerError},
		{"unknown template", map[string]string{"template_id": "404", "role": "score"}, "a.png", nil, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := tt.content
			if content == nil {
				content = pngBytes(t, 4, 4)
			}
			storage := newFakeStorage()
			h := &AssetHandler{Storage: storage, Templates: &fakeImageSetter{}, Scanner: tt.scanner, MaxBytes: 1024}
			body, ct := newMultipartUpload(t, tt.fields, tt.file, content)
			w := serveUpload(h, body, ct)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want != http.StatusNotFound {
				assert.Empty(t, storage.uploaded, "rejected uploads leave storage unchanged")
			}
		})
	}
}

func TestAssetObjectKeyValidation(t *testing.T) {
	tests := map[string]bool{
		"assets/1/abc.png":       true,
		"assets/12/abc.JPEG":     true,
		"assets/x/abc.png":       false,
		"assets/1/../2/abc.png":  false,
		"assets/1/sub/abc.png":   false,
		"assets/1/abc.gif":       false,
		"certificates/1/abc.png": false,
		"":                       false,
	}
	for key, want := range tests {
		assert.Equal(t, want, isValidAssetObjectKey(key), key)
	}
}
