// Package attributes serves the /tags and /ingredients endpoints. Both
// collections share one generic handler.
package attributes

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
)

// Named is satisfied by models.Tag and models.Ingredient
type Named interface {
	GetID() uint
	GetName() string
}

// Service is the tag or ingredient behaviour the handler needs
type Service[T any] interface {
	Kind() models.Kind
	List(ctx context.Context, ownerID uint, assignedOnly bool) ([]T, error)
	Update(ctx context.Context, ownerID, id uint, name string) (*T, error)
	Delete(ctx context.Context, ownerID, id uint) error
}

// Handler handles requests for one attribute collection
type Handler[T Named] struct {
	svc  Service[T]
	kind models.Kind
}

// NewHandler creates a handler for the service's collection
func NewHandler[T Named](svc Service[T]) *Handler[T] {
	return &Handler[T]{svc: svc, kind: svc.Kind()}
}

// AttributeResponse represents a tag or ingredient in API responses
type AttributeResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// UpdateRequest renames a tag or ingredient
type UpdateRequest struct {
	Name string `json:"name" binding:"required"`
}

func toResponse[T Named](item T) AttributeResponse {
	return AttributeResponse{ID: item.GetID(), Name: item.GetName()}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperror.HTTP(err))
}

func (h *Handler[T]) parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + string(h.kind) + " ID"})
		return 0, false
	}
	return uint(id), true
}

// List returns the caller's tags or ingredients, ordered by name descending.
// assigned_only=1 restricts the list to those used by at least one recipe.
// @Summary List tags or ingredients
// @Tags attributes
// @Produce json
// @Param assigned_only query int false "Only items assigned to a recipe (0 or 1)"
// @Success 200 {array} AttributeResponse
// @Failure 400 {object} map[string]string "Invalid filter"
// @Security BearerAuth
// @Router /tags [get]
// @Router /ingredients [get]
func (h *Handler[T]) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	assignedOnly := false
	if v := c.Query("assigned_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "assigned_only must be 0 or 1", "field": "assigned_only"})
			return
		}
		assignedOnly = b
	}

	items, err := h.svc.List(c.Request.Context(), userID, assignedOnly)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]AttributeResponse, len(items))
	for i, it := range items {
		responses[i] = toResponse(it)
	}
	c.JSON(http.StatusOK, responses)
}

// Update renames a tag or ingredient
// @Summary Rename a tag or ingredient
// @Tags attributes
// @Accept json
// @Produce json
// @Param id path int true "ID"
// @Param request body UpdateRequest true "New name"
// @Success 200 {object} AttributeResponse
// @Failure 400 {object} map[string]string "Validation error or name taken"
// @Failure 404 {object} map[string]string "Not found"
// @Security BearerAuth
// @Router /tags/{id} [patch]
// @Router /ingredients/{id} [patch]
func (h *Handler[T]) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": "name"})
		return
	}

	item, err := h.svc.Update(c.Request.Context(), userID, id, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(*item))
}

// Delete removes a tag or ingredient and unlinks it from the caller's recipes
// @Summary Delete a tag or ingredient
// @Tags attributes
// @Param id path int true "ID"
// @Success 204
// @Failure 404 {object} map[string]string "Not found"
// @Security BearerAuth
// @Router /tags/{id} [delete]
// @Router /ingredients/{id} [delete]
func (h *Handler[T]) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the collection's routes, e.g. /tags and /tags/:id
func (h *Handler[T]) RegisterRoutes(rg *gin.RouterGroup) {
	base := "/" + h.kind.Plural()
	rg.GET(base, h.List)
	rg.PUT(base+"/:id", h.Update)
	rg.PATCH(base+"/:id", h.Update)
	rg.DELETE(base+"/:id", h.Delete)
}
