package profiles

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"readhub/internal/auth"
	"readhub/internal/catalog"
	synchub "readhub/internal/sync"
)

// Notifier pings the user's other devices after a mutation. Satisfied by
// notify.Server.
type Notifier interface {
	NotifyProfileChanged(userID, originDeviceID, profileID, seriesID string)
}

type Handler struct {
	Engine   *Engine
	Catalog  *catalog.Repo
	Hub      *synchub.Hub
	Notifier Notifier
}

func NewHandler(engine *Engine, cat *catalog.Repo, hub *synchub.Hub, notifier Notifier) *Handler {
	return &Handler{Engine: engine, Catalog: cat, Hub: hub, Notifier: notifier}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/profiles", h.list)
	rg.POST("/profiles", h.create)
	rg.GET("/profiles/resolve", h.resolve)
	rg.GET("/profiles/:profile_id", h.get)
	rg.PUT("/profiles/:profile_id", h.update)
	rg.DELETE("/profiles/:profile_id", h.remove)
	rg.POST("/profiles/:profile_id/series", h.bindSeries)
	rg.POST("/profiles/:profile_id/libraries", h.bindLibraries)
	rg.PUT("/profiles/:profile_id/devices", h.setDevices)
	rg.POST("/profiles/:profile_id/promote", h.promote)
	rg.POST("/profiles/implicit", h.upsertImplicit)
	rg.POST("/profiles/parent", h.updateParent)
	rg.DELETE("/profiles/series/:series_id", h.clearSeries)
	rg.DELETE("/profiles/libraries/:library_id", h.clearLibrary)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your profile"})
	case errors.Is(err, ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "profile name already in use"})
	case errors.Is(err, ErrProtectedProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "default profile is protected"})
	case errors.Is(err, ErrInvalidKindTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": "operation not valid for this profile kind"})
	case errors.Is(err, ErrInvariantViolation):
		// missing default profile is a provisioning bug, not user error
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no resolvable profile"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}

func (h *Handler) broadcast(eventType, userID, profileID, seriesID, libraryID, originDevice string) {
	if h.Hub != nil {
		ev := synchub.ProfileEvent{
			Type:      eventType,
			UserID:    userID,
			ProfileID: profileID,
			SeriesID:  seriesID,
			LibraryID: libraryID,
			At:        time.Now().UTC(),
		}
		go h.Hub.BroadcastJSON(ev)
	}
	if h.Notifier != nil {
		go h.Notifier.NotifyProfileChanged(userID, originDevice, profileID, seriesID)
	}
}

// seriesOwned checks the series exists inside a library the user owns.
func (h *Handler) seriesOwned(c *gin.Context, userID, seriesID string) bool {
	s, err := h.Catalog.GetSeries(c.Request.Context(), seriesID)
	if err != nil || s == nil {
		return false
	}
	lib, err := h.Catalog.GetLibrary(c.Request.Context(), s.LibraryID)
	return err == nil && lib != nil && lib.OwnerID == userID
}

func (h *Handler) libraryOwned(c *gin.Context, userID, libraryID string) bool {
	lib, err := h.Catalog.GetLibrary(c.Request.Context(), libraryID)
	return err == nil && lib != nil && lib.OwnerID == userID
}

func (h *Handler) list(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	items, err := h.Engine.ListProfiles(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type createReq struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings"`
}

func (h *Handler) create(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	p, err := h.Engine.CreateProfile(c.Request.Context(), claims.UserID, req.Name, req.Settings)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventProfileUpdate, claims.UserID, p.ID, "", "", "")
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) get(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	p, err := h.Engine.GetProfile(c.Request.Context(), claims.UserID, c.Param("profile_id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type updateReq struct {
	Name     string          `json:"name,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

func (h *Handler) update(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	profileID := c.Param("profile_id")
	var err error
	if strings.TrimSpace(req.Name) != "" {
		if _, err = h.Engine.RenameProfile(c.Request.Context(), claims.UserID, profileID, req.Name); err != nil {
			writeEngineError(c, err)
			return
		}
	}
	if len(req.Settings) > 0 {
		if _, err = h.Engine.UpdateSettings(c.Request.Context(), claims.UserID, profileID, req.Settings); err != nil {
			writeEngineError(c, err)
			return
		}
	}

	p, err := h.Engine.GetProfile(c.Request.Context(), claims.UserID, profileID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventProfileUpdate, claims.UserID, p.ID, "", "", "")
	c.JSON(http.StatusOK, p)
}

func (h *Handler) remove(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profileID := c.Param("profile_id")
	if err := h.Engine.DeleteProfile(c.Request.Context(), claims.UserID, profileID); err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventProfileDelete, claims.UserID, profileID, "", "", "")
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) resolve(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	libraryID := strings.TrimSpace(c.Query("library_id"))
	seriesID := strings.TrimSpace(c.Query("series_id"))
	var deviceID *string
	if d := strings.TrimSpace(c.Query("device_id")); d != "" {
		deviceID = &d
	}
	skipImplicit := c.Query("skip_implicit") == "true"

	p, err := h.Engine.Resolve(c.Request.Context(), claims.UserID, libraryID, seriesID, deviceID, skipImplicit)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type bindSeriesReq struct {
	SeriesIDs []string `json:"series_ids"`
}

func (h *Handler) bindSeries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req bindSeriesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.SeriesIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series_ids required"})
		return
	}
	for _, id := range req.SeriesIDs {
		if !h.seriesOwned(c, claims.UserID, id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "series not found: " + id})
			return
		}
	}

	p, err := h.Engine.SetSeriesProfiles(c.Request.Context(), claims.UserID, c.Param("profile_id"), req.SeriesIDs)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventScopeChange, claims.UserID, p.ID, req.SeriesIDs[0], "", "")
	c.JSON(http.StatusOK, p)
}

type bindLibrariesReq struct {
	LibraryIDs []string `json:"library_ids"`
}

func (h *Handler) bindLibraries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req bindLibrariesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.LibraryIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "library_ids required"})
		return
	}
	for _, id := range req.LibraryIDs {
		if !h.libraryOwned(c, claims.UserID, id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "library not found: " + id})
			return
		}
	}

	p, err := h.Engine.SetLibraryProfiles(c.Request.Context(), claims.UserID, c.Param("profile_id"), req.LibraryIDs)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventScopeChange, claims.UserID, p.ID, "", req.LibraryIDs[0], "")
	c.JSON(http.StatusOK, p)
}

type setDevicesReq struct {
	DeviceIDs []string `json:"device_ids"`
}

func (h *Handler) setDevices(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req setDevicesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	// empty device_ids is valid: it makes the profile a wildcard
	for _, id := range req.DeviceIDs {
		d, err := h.Catalog.GetDevice(c.Request.Context(), id)
		if err != nil || d == nil || d.OwnerID != claims.UserID {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found: " + id})
			return
		}
	}

	p, err := h.Engine.SetProfileDevices(c.Request.Context(), claims.UserID, c.Param("profile_id"), req.DeviceIDs)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventScopeChange, claims.UserID, p.ID, "", "", "")
	c.JSON(http.StatusOK, p)
}

type promoteReq struct {
	Name string `json:"name"`
}

func (h *Handler) promote(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req promoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	p, err := h.Engine.Promote(c.Request.Context(), claims.UserID, c.Param("profile_id"), req.Name)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventProfilePromote, claims.UserID, p.ID, "", "", "")
	c.JSON(http.StatusOK, p)
}

type implicitReq struct {
	LibraryID string          `json:"library_id"`
	SeriesID  string          `json:"series_id"`
	DeviceID  string          `json:"device_id,omitempty"`
	Settings  json.RawMessage `json:"settings"`
}

func (h *Handler) upsertImplicit(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req implicitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.SeriesID = strings.TrimSpace(req.SeriesID)
	if req.SeriesID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series_id required"})
		return
	}
	if !h.seriesOwned(c, claims.UserID, req.SeriesID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "series not found"})
		return
	}

	var deviceID *string
	if d := strings.TrimSpace(req.DeviceID); d != "" {
		deviceID = &d
	}

	p, err := h.Engine.UpsertImplicit(c.Request.Context(), claims.UserID, req.LibraryID, req.SeriesID, req.Settings, deviceID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventProfileUpdate, claims.UserID, p.ID, req.SeriesID, "", req.DeviceID)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateParent(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req implicitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.SeriesID = strings.TrimSpace(req.SeriesID)
	if req.SeriesID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series_id required"})
		return
	}

	var deviceID *string
	if d := strings.TrimSpace(req.DeviceID); d != "" {
		deviceID = &d
	}

	p, err := h.Engine.UpdateParent(c.Request.Context(), claims.UserID, req.LibraryID, req.SeriesID, req.Settings, deviceID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventProfileUpdate, claims.UserID, p.ID, req.SeriesID, "", req.DeviceID)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) clearSeries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	seriesID := strings.TrimSpace(c.Param("series_id"))
	if err := h.Engine.ClearSeriesProfile(c.Request.Context(), claims.UserID, seriesID); err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventScopeChange, claims.UserID, "", seriesID, "", "")
	c.JSON(http.StatusOK, gin.H{"message": "cleared"})
}

func (h *Handler) clearLibrary(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	libraryID := strings.TrimSpace(c.Param("library_id"))
	if err := h.Engine.ClearLibraryProfile(c.Request.Context(), claims.UserID, libraryID); err != nil {
		writeEngineError(c, err)
		return
	}

	h.broadcast(synchub.EventScopeChange, claims.UserID, "", "", libraryID, "")
	c.JSON(http.StatusOK, gin.H{"message": "cleared"})
}
