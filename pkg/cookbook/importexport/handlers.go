// Package importexport moves a user's recipes in and out as portable JSON.
package importexport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/resolver"
	"github.com/mikepea/cookbook/pkg/cookbook/service"
	"github.com/shopspring/decimal"
)

// FormatVersion is written to every export document
const FormatVersion = 1

// Service is the recipe behaviour import and export need
type Service interface {
	List(ctx context.Context, ownerID uint, filter service.RecipeFilter) ([]models.Recipe, error)
	Create(ctx context.Context, ownerID uint, in service.RecipeInput) (*models.Recipe, error)
}

// Handler handles import/export requests
type Handler struct {
	svc Service
}

// NewHandler creates a new import/export handler
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// PortableRecipe is a recipe without ids. Tags and ingredients are carried
// by name so they can be resolved against the importing user's own sets.
type PortableRecipe struct {
	Title       string   `json:"title"`
	TimeMinutes int      `json:"time_minutes"`
	Price       string   `json:"price"`
	Link        string   `json:"link,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
	Ingredients []string `json:"ingredients"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

// ExportDocument is the body of an export
type ExportDocument struct {
	Version    int              `json:"version"`
	ExportedAt string           `json:"exported_at"`
	Recipes    []PortableRecipe `json:"recipes"`
}

// ImportRequest represents an import request
type ImportRequest struct {
	Recipes []PortableRecipe `json:"recipes" binding:"required"`
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

func toPortable(r models.Recipe) PortableRecipe {
	p := PortableRecipe{
		Title:       r.Title,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price.StringFixed(2),
		Link:        r.Link,
		Description: r.Description,
		Tags:        make([]string, len(r.Tags)),
		Ingredients: make([]string, len(r.Ingredients)),
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
	for i, t := range r.Tags {
		p.Tags[i] = t.Name
	}
	for i, ing := range r.Ingredients {
		p.Ingredients[i] = ing.Name
	}
	return p
}

func toInput(p PortableRecipe) (service.RecipeInput, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return service.RecipeInput{}, apperror.ValidationFailed("price", "A valid number is required.")
	}

	title, minutes := p.Title, p.TimeMinutes
	tags := resolver.Names(p.Tags...)
	ingredients := resolver.Names(p.Ingredients...)
	in := service.RecipeInput{
		Title:       &title,
		TimeMinutes: &minutes,
		Price:       &price,
		Tags:        &tags,
		Ingredients: &ingredients,
	}
	// Optional fields are omitted from exports when empty
	if p.Link != "" {
		in.Link = &p.Link
	}
	if p.Description != "" {
		in.Description = &p.Description
	}
	return in, nil
}

// Import recreates recipes for the caller. Tags and ingredients are matched
// by name against the caller's own, creating the missing ones. Invalid
// entries are skipped and reported; the rest are still imported.
// @Summary Import recipes
// @Tags recipes
// @Accept json
// @Produce json
// @Param request body ImportRequest true "Recipes to import"
// @Success 200 {object} ImportResult
// @Failure 400 {object} map[string]string "Malformed document"
// @Security BearerAuth
// @Router /recipes/import [post]
func (h *Handler) Import(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := ImportResult{
		Errors: []string{},
	}

	for i, p := range req.Recipes {
		in, err := toInput(p)
		if err == nil {
			_, err = h.svc.Create(c.Request.Context(), userID, in)
		}
		if err != nil {
			_ = c.Error(err)
			result.Errors = append(result.Errors, "recipe "+strconv.Itoa(i)+": "+describe(err))
			result.Skipped++
			continue
		}
		result.Imported++
	}

	c.JSON(http.StatusOK, result)
}

// Export returns all of the caller's recipes
// @Summary Export recipes
// @Tags recipes
// @Produce json
// @Success 200 {object} ExportDocument
// @Security BearerAuth
// @Router /recipes/export [get]
func (h *Handler) Export(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	list, err := h.svc.List(c.Request.Context(), userID, service.RecipeFilter{})
	if err != nil {
		_ = c.Error(err)
		c.JSON(apperror.HTTP(err))
		return
	}

	doc := ExportDocument{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Recipes:    make([]PortableRecipe, len(list)),
	}
	for i, r := range list {
		doc.Recipes[i] = toPortable(r)
	}

	c.Header("Content-Disposition", "attachment; filename=recipes.json")
	c.JSON(http.StatusOK, doc)
}

// describe renders err the way a client would see it, prefixed by the field
func describe(err error) string {
	_, body := apperror.HTTP(err)
	msg, _ := body["error"].(string)
	if field, ok := body["field"].(string); ok {
		return field + ": " + msg
	}
	return msg
}

// RegisterRoutes registers import/export routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/recipes/export", h.Export)
	rg.POST("/recipes/import", h.Import)
}
