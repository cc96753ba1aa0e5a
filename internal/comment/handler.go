package comment

import (
	"collab-script-editor/internal/errors"
	"collab-script-editor/internal/permission"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func requestCaps(c *gin.Context) permission.Capabilities {
	role, _ := c.Get("user_role")
	roleStr, _ := role.(string)
	return permission.ForRole(permission.Normalize(roleStr))
}

type CreateCommentRequest struct {
	Content         string  `json:"content" binding:"required"`
	ParentID        *uint64 `json:"parent_id"`
	StartPosition   int     `json:"start_position"`
	EndPosition     int     `json:"end_position"`
	HighlightedText string  `json:"highlighted_text"`
}

func (h *Handler) Create(c *gin.Context) {
	docID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(err)
		return
	}

	var form CreateCommentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	comment, err := h.service.CreateComment(c.Request.Context(), userID.(uint64), requestCaps(c), CreateCommentInput{
		DocumentID:      docID,
		ParentID:        form.ParentID,
		Content:         form.Content,
		StartPosition:   form.StartPosition,
		EndPosition:     form.EndPosition,
		HighlightedText: form.HighlightedText,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, comment)
}

// List returns the document's comments with anchors re-resolved against the
// current script text.
func (h *Handler) List(c *gin.Context) {
	docID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(err)
		return
	}

	views, err := h.service.ListComments(c.Request.Context(), docID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, views)
}

type UpdateCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) Update(c *gin.Context) {
	commentID, err := strconv.ParseUint(c.Param("commentId"), 10, 64)
	if err != nil {
		c.Error(err)
		return
	}

	var form UpdateCommentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")
	comment, err := h.service.UpdateComment(c.Request.Context(), commentID, userID.(uint64), requestCaps(c), form.Content)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, comment)
}

type ResolveCommentRequest struct {
	Resolved *bool `json:"resolved" binding:"required"`
}

func (h *Handler) Resolve(c *gin.Context) {
	commentID, err := strconv.ParseUint(c.Param("commentId"), 10, 64)
	if err != nil {
		c.Error(err)
		return
	}

	var form ResolveCommentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")
	comment, err := h.service.SetResolved(c.Request.Context(), commentID, userID.(uint64), requestCaps(c), *form.Resolved)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, comment)
}

func (h *Handler) Delete(c *gin.Context) {
	commentID, err := strconv.ParseUint(c.Param("commentId"), 10, 64)
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")
	if err := h.service.DeleteComment(c.Request.Context(), commentID, userID.(uint64), requestCaps(c)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
