package httpadapter

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

const multipartMemory = 8 << 20

func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		rt.recordUpload("rejected", 0)
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, err)
			return
		}
		writeBadRequest(w, "multipart form with field 'files' is required")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		rt.recordUpload("rejected", 0)
		writeBadRequest(w, "multipart field 'files' is required")
		return
	}

	files, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		rt.recordUpload("rejected", 0)
		writeBadRequest(w, err.Error())
		return
	}

	tags := domain.ParseTags(strings.Join(r.MultipartForm.Value["tags"], ","))
	doc, err := rt.deps.Ingestor.Upload(r.Context(), files, tags)
	if err != nil {
		rt.recordUpload("error", 0)
		writeError(w, err)
		return
	}
	rt.recordUpload("accepted", len(files))
	writeJSON(w, http.StatusAccepted, doc)
}

func openUploads(headers []*multipart.FileHeader) ([]ports.UploadFile, func(), error) {
	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]ports.UploadFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %s: %w", h.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, ports.UploadFile{
			Filename: h.Filename,
			MimeType: h.Header.Get("Content-Type"),
			Body:     f,
		})
	}
	return files, closeAll, nil
}

func (rt *Router) recordUpload(outcome string, files int) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordUpload(serviceName, outcome, files)
	}
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	docs, err := rt.deps.Reader.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Reader.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Admin.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Admin.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}
