// Package recipes serves the /recipes endpoints.
package recipes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/images"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/service"
)

// Service is the recipe behaviour the handler needs
type Service interface {
	List(ctx context.Context, ownerID uint, filter service.RecipeFilter) ([]models.Recipe, error)
	Create(ctx context.Context, ownerID uint, in service.RecipeInput) (*models.Recipe, error)
	Retrieve(ctx context.Context, ownerID, id uint) (*models.Recipe, error)
	Update(ctx context.Context, ownerID, id uint, in service.RecipeInput) (*models.Recipe, error)
	Replace(ctx context.Context, ownerID, id uint, in service.RecipeInput) (*models.Recipe, error)
	Delete(ctx context.Context, ownerID, id uint) error
	SetImage(ctx context.Context, ownerID, id uint, image io.Reader) (*models.Recipe, error)
}

// Handler handles recipe requests
type Handler struct {
	svc Service
}

// NewHandler creates a new recipes handler
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// AttributeResponse is a tag or ingredient nested in a recipe
type AttributeResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// RecipeResponse is the list representation of a recipe
type RecipeResponse struct {
	ID          uint                `json:"id"`
	Title       string              `json:"title"`
	TimeMinutes int                 `json:"time_minutes"`
	Price       string              `json:"price"`
	Link        string              `json:"link"`
	Tags        []AttributeResponse `json:"tags"`
	Ingredients []AttributeResponse `json:"ingredients"`
}

// RecipeDetailResponse adds the long-form fields
type RecipeDetailResponse struct {
	RecipeResponse
	Description string `json:"description"`
	Image       string `json:"image"`
}

// ImageResponse is returned after an upload
type ImageResponse struct {
	ID    uint   `json:"id"`
	Image string `json:"image"`
}

type named interface {
	GetID() uint
	GetName() string
}

func attributesToResponse[T named](items []T) []AttributeResponse {
	out := make([]AttributeResponse, len(items))
	for i, it := range items {
		out[i] = AttributeResponse{ID: it.GetID(), Name: it.GetName()}
	}
	return out
}

func recipeToResponse(r models.Recipe) RecipeResponse {
	return RecipeResponse{
		ID:          r.ID,
		Title:       r.Title,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price.StringFixed(2),
		Link:        r.Link,
		Tags:        attributesToResponse(r.Tags),
		Ingredients: attributesToResponse(r.Ingredients),
	}
}

func recipeToDetail(r models.Recipe) RecipeDetailResponse {
	return RecipeDetailResponse{
		RecipeResponse: recipeToResponse(r),
		Description:    r.Description,
		Image:          images.URL(r.Image),
	}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperror.HTTP(err))
}

func parseRecipeID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid recipe ID"})
		return 0, false
	}
	return uint(id), true
}

// ParseIDs parses a comma separated id list such as "1,2,3"
func ParseIDs(csv string) ([]uint, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// List returns the caller's recipes
// @Summary List recipes
// @Description Get the authenticated user's recipes, newest first
// @Tags recipes
// @Produce json
// @Param tags query string false "Comma separated tag IDs to filter"
// @Param ingredients query string false "Comma separated ingredient IDs to filter"
// @Success 200 {array} RecipeResponse
// @Failure 400 {object} map[string]string "Invalid filter"
// @Security BearerAuth
// @Router /recipes [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var filter service.RecipeFilter
	var err error
	if filter.TagIDs, err = ParseIDs(c.Query("tags")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tags filter", "field": "tags"})
		return
	}
	if filter.IngredientIDs, err = ParseIDs(c.Query("ingredients")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ingredients filter", "field": "ingredients"})
		return
	}

	list, err := h.svc.List(c.Request.Context(), userID, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]RecipeResponse, len(list))
	for i, r := range list {
		responses[i] = recipeToResponse(r)
	}
	c.JSON(http.StatusOK, responses)
}

// Create creates a recipe, creating or reusing the named tags and ingredients
// @Summary Create a recipe
// @Tags recipes
// @Accept json
// @Produce json
// @Param request body service.RecipeInput true "Recipe details"
// @Success 201 {object} RecipeDetailResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Security BearerAuth
// @Router /recipes [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var in service.RecipeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipe, err := h.svc.Create(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recipeToDetail(*recipe))
}

// Get returns one recipe
// @Summary Get a recipe
// @Tags recipes
// @Produce json
// @Param id path int true "Recipe ID"
// @Success 200 {object} RecipeDetailResponse
// @Failure 404 {object} map[string]string "Recipe not found"
// @Security BearerAuth
// @Router /recipes/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := parseRecipeID(c)
	if !ok {
		return
	}

	recipe, err := h.svc.Retrieve(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipeToDetail(*recipe))
}

// Update changes a recipe. PATCH applies the fields present in the body; PUT
// additionally requires title, time_minutes and price. A tags or ingredients
// list, when present, replaces the current set.
// @Summary Update a recipe
// @Tags recipes
// @Accept json
// @Produce json
// @Param id path int true "Recipe ID"
// @Param request body service.RecipeInput true "Fields to change"
// @Success 200 {object} RecipeDetailResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "Recipe not found"
// @Security BearerAuth
// @Router /recipes/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := parseRecipeID(c)
	if !ok {
		return
	}

	var in service.RecipeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := h.svc.Update
	if c.Request.Method == http.MethodPut {
		update = h.svc.Replace
	}

	recipe, err := update(c.Request.Context(), userID, id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipeToDetail(*recipe))
}

// Delete removes a recipe
// @Summary Delete a recipe
// @Tags recipes
// @Param id path int true "Recipe ID"
// @Success 204
// @Failure 404 {object} map[string]string "Recipe not found"
// @Security BearerAuth
// @Router /recipes/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := parseRecipeID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// maxUploadBody allows the largest accepted image plus multipart framing
const maxUploadBody = images.DefaultMaxBytes + 1<<20

// UploadImage attaches an image to a recipe
// @Summary Upload a recipe image
// @Tags recipes
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Recipe ID"
// @Param image formData file true "Image file"
// @Success 200 {object} ImageResponse
// @Failure 400 {object} map[string]string "Missing or invalid image"
// @Failure 404 {object} map[string]string "Recipe not found"
// @Security BearerAuth
// @Router /recipes/{id}/upload-image [post]
func (h *Handler) UploadImage(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := parseRecipeID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperror.ValidationFailed("image", "The submitted file is too large."))
			return
		}
		respondError(c, apperror.ValidationFailed("image", "No file was submitted."))
		return
	}
	src, err := file.Open()
	if err != nil {
		respondError(c, apperror.ValidationFailed("image", "The submitted file could not be read."))
		return
	}
	defer src.Close()

	recipe, err := h.svc.SetImage(c.Request.Context(), userID, id, src)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ImageResponse{ID: recipe.ID, Image: images.URL(recipe.Image)})
}

// RegisterRoutes registers recipe routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/recipes", h.List)
	rg.POST("/recipes", h.Create)
	rg.GET("/recipes/:id", h.Get)
	rg.PUT("/recipes/:id", h.Update)
	rg.PATCH("/recipes/:id", h.Update)
	rg.DELETE("/recipes/:id", h.Delete)
	rg.POST("/recipes/:id/upload-image", h.UploadImage)
}
