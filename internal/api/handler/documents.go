package handler

import (
	"net/http"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/directory"
	"github.com/d9705996/perseo/internal/model"
)

type documentRequest struct {
	Type     model.DocumentType `json:"type" validate:"required,oneof=identity academic medical administrative photo other"`
	URL      string             `json:"url" validate:"required,url"`
	FileName string             `json:"fileName" validate:"required,max=255"`
	MimeType string             `json:"mimeType" validate:"required,max=255"`
	Size     int64              `json:"size" validate:"gt=0"`
}

// CreateDocument handles POST /api/v1/persons/{id}/documents.
func (h *DirectoryHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	d, err := h.dir.CreateDocument(r.Context(), principal(r), r.PathValue("id"), directory.DocumentInput{
		Type:     req.Type,
		URL:      req.URL,
		FileName: req.FileName,
		MimeType: req.MimeType,
		Size:     req.Size,
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, documentView(d))
}

// ListDocuments handles GET /api/v1/persons/{id}/documents.
func (h *DirectoryHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	pp, err := pageOf(r, directory.DocumentSortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	rows, meta, err := h.dir.ListDocuments(r.Context(), principal(r), r.PathValue("id"), pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, documentView), meta)
}

// GetDocument handles GET /api/v1/documents/{id}.
func (h *DirectoryHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	d, err := h.dir.GetDocument(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, documentView(d))
}

type documentPatchRequest struct {
	Type     *model.DocumentType `json:"type" validate:"omitempty,oneof=identity academic medical administrative photo other"`
	FileName *string             `json:"fileName" validate:"omitempty,min=1,max=255"`
	Active   *bool               `json:"active"`
}

// UpdateDocument handles PATCH /api/v1/documents/{id}.
func (h *DirectoryHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentPatchRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	d, err := h.dir.UpdateDocument(r.Context(), principal(r), r.PathValue("id"), directory.DocumentPatch{
		Type:     req.Type,
		FileName: req.FileName,
		Active:   req.Active,
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, documentView(d))
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (h *DirectoryHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.DeleteDocument(r.Context(), principal(r), r.PathValue("id")); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
