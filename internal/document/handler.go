package document

import (
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/errors"
	"collab-script-editor/internal/mutation"
	"collab-script-editor/internal/permission"
	"collab-script-editor/internal/utils"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LockGate reports whether a user's session currently holds a document's
// edit lock. Satisfied by the editlock registry.
type LockGate interface {
	Editable(docID, userID uint64) bool
}

type Handler struct {
	service     Service
	coordinator *mutation.Coordinator
	locks       LockGate
}

func NewHandler(service Service, coordinator *mutation.Coordinator, locks LockGate) *Handler {
	return &Handler{service: service, coordinator: coordinator, locks: locks}
}

// mustHoldLock gates mutation routes: the record is the single source of
// truth for who may edit, so a PATCH from a session that never acquired it
// is refused regardless of role.
func (h *Handler) mustHoldLock(c *gin.Context, docID uint64) bool {
	userID, _ := c.Get("user_id")
	if !h.locks.Editable(docID, userID.(uint64)) {
		c.Error(errors.Conflict("You must hold the edit lock to modify this document!", nil))
		return false
	}
	return true
}

func docParam(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

func requestCaps(c *gin.Context) permission.Capabilities {
	role, _ := c.Get("user_role")
	roleStr, _ := role.(string)
	return permission.ForRole(permission.Normalize(roleStr))
}

type CreateDocumentRequest struct {
	Title     string `json:"title" binding:"required,min=1,max=255"`
	ProjectID uint64 `json:"project_id" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateDocumentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	if !requestCaps(c).CanEdit {
		c.Error(errors.Forbidden("Your role can't create documents!", nil))
		return
	}

	userID, _ := c.Get("user_id")

	doc := &domain.Document{
		Title:     form.Title,
		ProjectID: form.ProjectID,
	}

	if err := h.service.CreateDocument(c.Request.Context(), userID.(uint64), doc); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) Show(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	doc, err := h.service.GetDocumentByID(c.Request.Context(), docID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) ShowProjectDocuments(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("projectId"), 10, 64)
	if err != nil {
		c.Error(err)
		return
	}

	page, pageSize := utils.GetPaginationParams(c)
	result, err := h.service.GetProjectDocuments(c.Request.Context(), projectID, page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type ComponentInput struct {
	Kind    string `json:"kind" binding:"required,oneof=scene_heading action dialogue voiceover transition"`
	Content string `json:"content"`
}

type SaveDocumentRequest struct {
	Title       *string          `json:"title"`
	Content     *string          `json:"content"`
	EditorState []byte           `json:"editor_state"`
	Components  []ComponentInput `json:"components"`
}

// Save applies a sparse update: only the fields present in the body are
// written, so two editors saving different fields never clobber each other.
func (h *Handler) Save(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	if !h.mustHoldLock(c, docID) {
		return
	}

	var form SaveDocumentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	partial := mutation.PartialUpdate{
		Title:       form.Title,
		Content:     form.Content,
		EditorState: form.EditorState,
	}
	if form.Components != nil {
		components := make([]domain.ScriptComponent, 0, len(form.Components))
		for _, comp := range form.Components {
			components = append(components, domain.ScriptComponent{
				Kind:    comp.Kind,
				Content: comp.Content,
			})
		}
		partial.Components = components
	}

	if err := h.coordinator.Save(c.Request.Context(), docID, requestCaps(c), partial); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, h.coordinator.Status(docID))
}

// MarkUnsaved flags edits pending before the editor's save debounce fires,
// so the save lifecycle reads unsaved instead of a stale saved.
func (h *Handler) MarkUnsaved(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	if !h.mustHoldLock(c, docID) {
		return
	}

	h.coordinator.MarkUnsaved(docID)
	c.JSON(http.StatusOK, h.coordinator.Status(docID))
}

// SaveStatus exposes the local save lifecycle for the editor surface.
func (h *Handler) SaveStatus(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, h.coordinator.Status(docID))
}

type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=draft in_review approved final"`
}

func (h *Handler) ChangeStatus(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	if !h.mustHoldLock(c, docID) {
		return
	}

	var form ChangeStatusRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	doc, err := h.coordinator.ChangeStatus(c.Request.Context(), docID, requestCaps(c), form.Status)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) Delete(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")
	role, _ := c.Get("user_role")
	roleStr, _ := role.(string)

	err = h.service.DeleteDocument(c.Request.Context(), docID, userID.(uint64), roleStr == "admin")
	if err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
