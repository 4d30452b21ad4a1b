package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gramport/internal/repository"
	"gramport/internal/service"
)

// PostHandler 提供已导入内容的只读端点。
type PostHandler struct {
	posts *service.PostService
	media *service.MediaService
}

func NewPostHandler(posts *service.PostService, media *service.MediaService) *PostHandler {
	return &PostHandler{posts: posts, media: media}
}

func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{id}", h.GetPost)
	r.Get("/attachments/{id}/download", h.DownloadAttachment)
}

// ListPosts 按发布时间倒序返回帖子。
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	params := repository.ListPostsParams{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	posts, err := h.posts.ListPosts(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if posts == nil {
		posts = []repository.Post{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: posts})
}

// GetPost 返回帖子及其标签与附件。
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "post id is required")
		return
	}

	post, err := h.posts.GetPost(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: post})
}

// DownloadAttachment 返回附件内容以供下载。
func (h *PostHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "attachment id is required")
		return
	}

	att, content, err := h.media.OpenAttachment(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read attachment")
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(att.SizeBytes, 10))

	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		return
	}
}
