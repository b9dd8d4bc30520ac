package catalog

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"readhub/internal/auth"
	"readhub/pkg/models"
)

type Handler struct {
	Repo *Repo
}

func NewHandler(repo *Repo) *Handler {
	return &Handler{Repo: repo}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/libraries", h.listLibraries)
	rg.POST("/libraries", h.createLibrary)
	rg.GET("/libraries/:library_id/series", h.listSeries)
	rg.POST("/libraries/:library_id/series", h.createSeries)
	rg.GET("/devices", h.listDevices)
	rg.PUT("/devices/:device_id", h.registerDevice)
	rg.DELETE("/devices/:device_id", h.removeDevice)
}

type createLibraryReq struct {
	Name string `json:"name"`
}

func (h *Handler) createLibrary(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createLibraryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	lib := models.Library{
		ID:      uuid.NewString(),
		OwnerID: claims.UserID,
		Name:    req.Name,
	}
	if err := h.Repo.CreateLibrary(c.Request.Context(), lib); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	saved, err := h.Repo.GetLibrary(c.Request.Context(), lib.ID)
	if err != nil || saved == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch saved failed"})
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *Handler) listLibraries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	items, err := h.Repo.ListLibraries(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type createSeriesReq struct {
	Title string `json:"title"`
}

func (h *Handler) createSeries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	libraryID := strings.TrimSpace(c.Param("library_id"))
	lib, err := h.Repo.GetLibrary(c.Request.Context(), libraryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if lib == nil || lib.OwnerID != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "library not found"})
		return
	}

	var req createSeriesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}

	s := models.Series{
		ID:        uuid.NewString(),
		LibraryID: lib.ID,
		Title:     req.Title,
	}
	if err := h.Repo.CreateSeries(c.Request.Context(), s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) listSeries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	libraryID := strings.TrimSpace(c.Param("library_id"))
	lib, err := h.Repo.GetLibrary(c.Request.Context(), libraryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if lib == nil || lib.OwnerID != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "library not found"})
		return
	}

	items, err := h.Repo.ListSeries(c.Request.Context(), lib.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type registerDeviceReq struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

func (h *Handler) registerDevice(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	deviceID := strings.TrimSpace(c.Param("device_id"))
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id required"})
		return
	}

	// a device id registered by another user stays theirs
	existing, err := h.Repo.GetDevice(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if existing != nil && existing.OwnerID != claims.UserID {
		c.JSON(http.StatusConflict, gin.H{"error": "device id already registered"})
		return
	}

	var req registerDeviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = deviceID
	}

	d := models.Device{
		ID:       deviceID,
		OwnerID:  claims.UserID,
		Name:     req.Name,
		Platform: strings.TrimSpace(req.Platform),
	}
	if err := h.Repo.UpsertDevice(c.Request.Context(), d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	saved, err := h.Repo.GetDevice(c.Request.Context(), deviceID)
	if err != nil || saved == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch saved failed"})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) listDevices(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	items, err := h.Repo.ListDevices(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) removeDevice(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	deviceID := strings.TrimSpace(c.Param("device_id"))
	ok, err := h.Repo.DeleteDevice(c.Request.Context(), claims.UserID, deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
