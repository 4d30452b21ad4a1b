package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramport/internal/config"
	"gramport/internal/extract"
	"gramport/internal/importer"
	"gramport/internal/logging"
	"gramport/internal/repository/memory"
	"gramport/internal/service"
	"gramport/internal/stage"
	"gramport/internal/storage/local"
	"gramport/internal/upload"
)

const testPostsJSON = `[
  {"title":"Sunset at the pier #sunset #beach","creation_timestamp":1674233700,
   "media":[{"uri":"media/posts/202301/pier.jpg"}]}
]`

type testServer struct {
	handler http.Handler
	store   *memory.Store
	limits  upload.Limits
}

func newTestServer(t *testing.T, authMode string) *testServer {
	t.Helper()
	logger := logging.Discard()

	cfg := &config.Config{
		CORSAllowedOrigins: []string{"*"},
		RateLimitRequests:  10000,
		RateLimitWindow:    time.Minute,
		AuthMode:           authMode,
		APIKeys:            []string{"test-key"},
	}
	limits := upload.Limits{ChunkSize: 256, MaxUploadSize: 64 << 10}
	layout := upload.NewLayout(filepath.Join(t.TempDir(), "tmp"))
	store := memory.New()
	media := service.NewMediaService(store.Attachments(), local.NewWriter(t.TempDir(), ""))

	receiver := upload.NewReceiver(upload.NewChunkStore(layout), upload.NewJanitor(layout, time.Hour, logger), limits, logger)
	coord := importer.NewCoordinator(store.Posts(), store.Terms(), media,
		importer.Linker{ProfileBaseURL: "https://www.instagram.com/", TagBaseURL: "/tags/"}, logger)
	driver := stage.NewDriver(layout, upload.NewAssembler(logger), stage.ZipUnpacker{},
		extract.NewExtractor(extract.Paths{
			Legacy:     "your_instagram_activity/content/posts_1.html",
			Structured: "your_instagram_activity/content/posts_1.json",
		}, logger), coord, logger)

	auth, closeAuth, err := Authenticator(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(closeAuth)

	handler := NewRouter(cfg, auth, Handlers{
		Imports: NewImportHandler(receiver, driver, limits, logger),
		Posts:   NewPostHandler(service.NewPostService(store.Posts(), store.Terms(), store.Attachments()), media),
	})
	return &testServer{handler: handler, store: store, limits: limits}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func newMultipartRequest(t *testing.T, target string, fields map[string]string, fileField, fileName string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, val := range fields {
		if err := writer.WriteField(key, val); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write file content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func exportZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"your_instagram_activity/content/posts_1.json": testPostsJSON,
		"media/posts/202301/pier.jpg":                  "\xff\xd8\xff\xe0 jpeg body",
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// sendChunks posts data in chunkSize pieces and returns the last decoded response.
func (s *testServer) sendChunks(t *testing.T, id string, data []byte) map[string]any {
	t.Helper()
	size := int(s.limits.ChunkSize)
	total := (len(data) + size - 1) / size

	var last map[string]any
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(data))
		req := newMultipartRequest(t, "/imports/chunks", map[string]string{
			"session_id":   id,
			"chunk_index":  strconv.Itoa(i),
			"total_chunks": strconv.Itoa(total),
		}, "chunk", "blob", data[i*size:end])
		rec := s.do(t, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		last = map[string]any{}
		decodeData(t, rec, &last)
	}
	return last
}

func (s *testServer) process(t *testing.T, id, status string) *httptest.ResponseRecorder {
	t.Helper()
	form := strings.NewReader("upload_id=" + id + "&status=" + status)
	req := httptest.NewRequest(http.MethodPost, "/imports/process", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(t, req)
}

func TestImportHandler_Config(t *testing.T) {
	s := newTestServer(t, "none")

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/imports/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg configResponse
	decodeData(t, rec, &cfg)
	assert.Equal(t, configResponse{ChunkSize: 256, MaxUploadSize: 64 << 10}, cfg)
}

func TestImportHandler_UploadChunkProgress(t *testing.T) {
	s := newTestServer(t, "none")

	req := newMultipartRequest(t, "/imports/chunks", map[string]string{
		"session_id":   "abc",
		"chunk_index":  "0",
		"total_chunks": "3",
	}, "chunk", "blob", []byte("first"))
	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	decodeData(t, rec, &resp)
	assert.Equal(t, false, resp["complete"])
	assert.EqualValues(t, 0, resp["chunk_received"])
	assert.EqualValues(t, 3, resp["total_chunks"])
	assert.EqualValues(t, 1, resp["chunks_present"])
	assert.NotContains(t, resp, "upload_id")
}

func TestImportHandler_UploadChunkValidation(t *testing.T) {
	s := newTestServer(t, "none")

	tests := []struct {
		name    string
		fields  map[string]string
		file    []byte
		status  int
		message string
	}{
		{
			name:    "missing session",
			fields:  map[string]string{"chunk_index": "0", "total_chunks": "1"},
			file:    []byte("x"),
			status:  http.StatusBadRequest,
			message: "session_id is required",
		},
		{
			name:    "missing chunk index",
			fields:  map[string]string{"session_id": "abc", "total_chunks": "1"},
			file:    []byte("x"),
			status:  http.StatusBadRequest,
			message: "chunk_index is required",
		},
		{
			name:    "non numeric total",
			fields:  map[string]string{"session_id": "abc", "chunk_index": "0", "total_chunks": "many"},
			file:    []byte("x"),
			status:  http.StatusBadRequest,
			message: "total_chunks must be an integer",
		},
		{
			name:    "zero total",
			fields:  map[string]string{"session_id": "abc", "chunk_index": "0", "total_chunks": "0"},
			file:    []byte("x"),
			status:  http.StatusBadRequest,
			message: "total_chunks must be at least 1",
		},
		{
			name:    "no chunk file",
			fields:  map[string]string{"session_id": "abc", "chunk_index": "0", "total_chunks": "1"},
			status:  http.StatusBadRequest,
			message: "No chunk received",
		},
		{
			name:    "index out of range",
			fields:  map[string]string{"session_id": "abc", "chunk_index": "2", "total_chunks": "2"},
			file:    []byte("x"),
			status:  http.StatusBadRequest,
			message: "chunk_index must be lower than total_chunks",
		},
		{
			name:    "bad session id",
			fields:  map[string]string{"session_id": "../etc", "chunk_index": "0", "total_chunks": "1"},
			file:    []byte("x"),
			status:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fileField := ""
			if tt.file != nil {
				fileField = "chunk"
			}
			rec := s.do(t, newMultipartRequest(t, "/imports/chunks", tt.fields, fileField, "blob", tt.file))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.message != "" {
				assert.Equal(t, tt.message, decodeError(t, rec))
			}
		})
	}
}

func TestImportHandler_UploadChunkTooLarge(t *testing.T) {
	s := newTestServer(t, "none")

	req := newMultipartRequest(t, "/imports/chunks", map[string]string{
		"session_id":   "abc",
		"chunk_index":  "0",
		"total_chunks": "2",
	}, "chunk", "blob", bytes.Repeat([]byte("a"), 300))
	rec := s.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "exceeds maximum allowed size")
}

func TestImportHandler_ProcessUnknownStatus(t *testing.T) {
	s := newTestServer(t, "none")

	rec := s.process(t, "abc", "finishing")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown import status: finishing", decodeError(t, rec))
}

func TestImportHandler_ProcessCorruptArchive(t *testing.T) {
	s := newTestServer(t, "none")
	s.sendChunks(t, "broken", []byte("this is not a zip archive"))

	rec := s.process(t, "broken", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Invalid ZIP file created", decodeError(t, rec))
}

func TestImportFlowThroughHTTP(t *testing.T) {
	s := newTestServer(t, "none")
	data := exportZip(t)

	last := s.sendChunks(t, "Flow1", data)
	assert.Equal(t, true, last["complete"])
	assert.Equal(t, "flow1", last["upload_id"])

	var res stage.Result
	for _, status := range []string{"start", "extracting", "importing"} {
		rec := s.process(t, "flow1", status)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		res = stage.Result{}
		decodeData(t, rec, &res)
	}
	assert.Equal(t, stage.Complete, res.Status)
	assert.Equal(t, 100, res.Progress)
	require.NotNil(t, res.Stats)
	assert.Equal(t, importer.Stats{Imported: 1}, *res.Stats)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/posts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []map[string]any
	decodeData(t, rec, &posts)
	require.Len(t, posts, 1)
	assert.Equal(t, "Sunset at the pier #sunset #beach", posts[0]["title"])
	postID := posts[0]["id"].(string)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/posts/"+postID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail service.PostDetail
	decodeData(t, rec, &detail)
	require.Len(t, detail.Tags, 2)
	assert.Equal(t, "sunset", detail.Tags[0].Name)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "pier.jpg", detail.Attachments[0].OriginalName)
	assert.Equal(t, "image/jpeg", detail.Attachments[0].MimeType)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/attachments/"+detail.Attachments[0].ID+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "\xff\xd8\xff\xe0 jpeg body", string(body))
}

func TestPostHandler_NotFound(t *testing.T) {
	s := newTestServer(t, "none")

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/posts/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/attachments/missing/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostHandler_EmptyList(t *testing.T) {
	s := newTestServer(t, "none")

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/posts?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestRouter_APIKeyAuth(t *testing.T) {
	s := newTestServer(t, "apikey")

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/imports/config", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/imports/config", nil)
	req.Header.Set("Authorization", "ApiKey test-key")
	rec = s.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticator_JWTRequiresKeyMaterial(t *testing.T) {
	_, _, err := Authenticator(&config.Config{AuthMode: "jwt"}, logging.Discard())
	assert.Error(t, err)
}
