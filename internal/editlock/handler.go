package editlock

import (
	"collab-script-editor/internal/errors"
	"collab-script-editor/internal/permission"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	registry *Registry
	store    LockStore
}

func NewHandler(registry *Registry, store LockStore) *Handler {
	return &Handler{registry: registry, store: store}
}

func docParam(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

func requestCaps(c *gin.Context) permission.Capabilities {
	role, _ := c.Get("user_role")
	roleStr, _ := role.(string)
	return permission.ForRole(permission.Normalize(roleStr))
}

// Acquire drives the session's lease state machine for the calling user.
func (h *Handler) Acquire(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	if !requestCaps(c).CanEdit {
		c.Error(errors.Forbidden("Your role can't edit documents!", nil))
		return
	}

	userID, _ := c.Get("user_id")
	status, err := h.registry.Acquire(c.Request.Context(), docID, userID.(uint64))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// Show reports the lock state. Sessions report their local view; without a
// session the authoritative record decides.
func (h *Handler) Show(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")
	if status, ok := h.registry.Status(docID, userID.(uint64)); ok {
		c.JSON(http.StatusOK, status)
		return
	}

	lock, err := h.store.Get(c.Request.Context(), docID)
	if err == ErrLockNotFound {
		c.JSON(http.StatusOK, Status{State: StateUnlocked})
		return
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, Status{
		State:    StateLocked,
		LockedBy: &Holder{ID: lock.OwnerID},
	})
}

// Heartbeat refreshes the caller's lease. Sessions renew on their own; this
// path serves API clients recovering after a connection drop.
func (h *Handler) Heartbeat(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")
	if err := h.store.Heartbeat(c.Request.Context(), docID, userID.(uint64), time.Now().UTC()); err != nil {
		if err == ErrNotLockOwner {
			c.Error(errors.Conflict("You don't hold the lock on this document!", err))
			return
		}
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Release(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	userID, _ := c.Get("user_id")
	if err := h.registry.Release(c.Request.Context(), docID, userID.(uint64)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ForceRelease is the privileged takeover path.
func (h *Handler) ForceRelease(c *gin.Context) {
	docID, err := docParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	if !requestCaps(c).CanEdit {
		c.Error(errors.Forbidden("Your role can't take over locks!", nil))
		return
	}

	if err := h.registry.ForceRelease(c.Request.Context(), docID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
