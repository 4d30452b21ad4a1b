package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"gramport/internal/apperror"
	"gramport/internal/stage"
	"gramport/internal/upload"
)

// multipartOverhead 是分片请求中表单字段与边界的余量。
const multipartOverhead int64 = 1 << 20

// ImportHandler 提供分片上传与分阶段导入的 HTTP 端点。
type ImportHandler struct {
	receiver *upload.Receiver
	driver   *stage.Driver
	limits   upload.Limits
	logger   logrus.FieldLogger
}

func NewImportHandler(receiver *upload.Receiver, driver *stage.Driver, limits upload.Limits, logger logrus.FieldLogger) *ImportHandler {
	return &ImportHandler{receiver: receiver, driver: driver, limits: limits, logger: logger}
}

func (h *ImportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/imports", func(r chi.Router) {
		r.Get("/config", h.Config)
		r.Post("/chunks", h.UploadChunk)
		r.Post("/process", h.Process)
	})
}

type chunkForm struct {
	SessionID   string `form:"session_id" validate:"required,max=128"`
	ChunkIndex  *int   `form:"chunk_index" validate:"required,min=0"`
	TotalChunks *int   `form:"total_chunks" validate:"required,min=1"`
}

type processForm struct {
	SessionID string `form:"session_id" validate:"required,max=128"`
	Status    string `form:"status" validate:"max=32"`
}

type chunkResponse struct {
	Complete      bool   `json:"complete"`
	UploadID      string `json:"upload_id,omitempty"`
	ChunkReceived *int   `json:"chunk_received,omitempty"`
	TotalChunks   *int   `json:"total_chunks,omitempty"`
	ChunksPresent *int   `json:"chunks_present,omitempty"`
}

type configResponse struct {
	ChunkSize     int64 `json:"chunk_size"`
	MaxUploadSize int64 `json:"max_upload_size"`
}

// Config 返回客户端切片所需的参数。
func (h *ImportHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Data: configResponse{
		ChunkSize:     h.limits.ChunkSize,
		MaxUploadSize: h.limits.MaxUploadSize,
	}})
}

// UploadChunk 接收一个 multipart 分片：session_id（或 upload_id）、chunk_index、total_chunks 与 chunk 文件。
func (h *ImportHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.receiver == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	budget := h.limits.ChunkSize + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, budget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(budget); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Chunk exceeds maximum allowed size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	form := chunkForm{SessionID: firstFormValue(r, "session_id", "upload_id")}
	var err error
	if form.ChunkIndex, err = formInt(r, "chunk_index"); err != nil {
		writeAppError(w, err)
		return
	}
	if form.TotalChunks, err = formInt(r, "total_chunks"); err != nil {
		writeAppError(w, err)
		return
	}
	if err := validateForm(form); err != nil {
		writeAppError(w, err)
		return
	}

	file, header, err := r.FormFile("chunk")
	if err != nil {
		writeAppError(w, apperror.New(apperror.InvalidInput, "No chunk received"))
		return
	}
	defer file.Close()

	receipt, err := h.receiver.Receive(r.Context(), upload.ChunkInput{
		SessionID: form.SessionID,
		Index:     *form.ChunkIndex,
		Total:     *form.TotalChunks,
		Size:      header.Size,
		Body:      file,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	resp := chunkResponse{Complete: receipt.Complete}
	if receipt.Complete {
		resp.UploadID = receipt.SessionID
	} else {
		resp.ChunkReceived = &receipt.Index
		resp.TotalChunks = &receipt.Total
		resp.ChunksPresent = &receipt.Present
	}
	writeJSON(w, http.StatusOK, envelope{Data: resp})
}

// Process 推进一个导入阶段；status 为空时从 start 开始。
func (h *ImportHandler) Process(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.driver == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, multipartOverhead)
	defer r.Body.Close()

	form := processForm{
		SessionID: firstFormValue(r, "session_id", "upload_id"),
		Status:    firstFormValue(r, "status"),
	}
	if err := validateForm(form); err != nil {
		writeAppError(w, err)
		return
	}

	res, err := h.driver.Advance(r.Context(), form.SessionID, form.Status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: res})
}
