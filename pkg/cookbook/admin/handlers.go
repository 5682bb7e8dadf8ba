// Package admin serves staff-only user management and statistics.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"gorm.io/gorm"
)

// ImageRemover deletes stored recipe images
type ImageRemover interface {
	Remove(rel string) error
}

// Handler handles admin requests
type Handler struct {
	db     *gorm.DB
	images ImageRemover
}

// NewHandler creates a new admin handler. images may be nil when uploads are
// not served.
func NewHandler(db *gorm.DB, images ImageRemover) *Handler {
	return &Handler{db: db, images: images}
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	IsActive    bool   `json:"is_active"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	CreatedAt   string `json:"created_at"`
	LastLogin   string `json:"last_login,omitempty"`
	RecipeCount int64  `json:"recipe_count"`
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=255"`
	IsActive *bool   `json:"is_active"`
	IsStaff  *bool   `json:"is_staff"`
}

// StatsResponse represents system statistics
type StatsResponse struct {
	TotalUsers       int64 `json:"total_users"`
	ActiveUsers      int64 `json:"active_users"`
	StaffUsers       int64 `json:"staff_users"`
	TotalRecipes     int64 `json:"total_recipes"`
	TotalTags        int64 `json:"total_tags"`
	TotalIngredients int64 `json:"total_ingredients"`
	RecipesWithImage int64 `json:"recipes_with_image"`
	ActiveAPIKeys    int64 `json:"active_api_keys"`
}

func (h *Handler) toResponse(user models.User) UserResponse {
	var recipeCount int64
	h.db.Model(&models.Recipe{}).Where("user_id = ?", user.ID).Count(&recipeCount)

	resp := UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		IsActive:    user.IsActive,
		IsStaff:     user.IsStaff,
		IsSuperuser: user.IsSuperuser,
		CreatedAt:   user.CreatedAt.Format("2006-01-02T15:04:05Z"),
		RecipeCount: recipeCount,
	}
	if user.LastLogin != nil {
		resp.LastLogin = user.LastLogin.Format("2006-01-02T15:04:05Z")
	}
	return resp
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperror.HTTP(err))
}

func (h *Handler) loadUser(c *gin.Context) (*models.User, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return nil, false
	}

	var user models.User
	if err := h.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperror.NotFound("User"))
		} else {
			respondError(c, apperror.Persistence("load user", err))
		}
		return nil, false
	}
	return &user, true
}

// ListUsers returns all users (staff only)
// @Summary List users
// @Tags admin
// @Produce json
// @Param q query string false "Search email or name"
// @Param is_active query bool false "Filter by active flag"
// @Success 200 {array} UserResponse
// @Security BearerAuth
// @Router /admin/users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	var users []models.User

	query := h.db.Order("created_at DESC").Order("id DESC")

	// Optional search by email or name
	if search := c.Query("q"); search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if active := c.Query("is_active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid is_active filter", "field": "is_active"})
			return
		}
		query = query.Where("is_active = ?", b)
	}

	if err := query.Find(&users).Error; err != nil {
		respondError(c, apperror.Persistence("list users", err))
		return
	}

	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = h.toResponse(user)
	}

	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID (staff only)
// @Summary Get user
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} UserResponse
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /admin/users/{id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.toResponse(*user))
}

// UpdateUser changes a user's name, active flag or staff flag (staff only)
// @Summary Update user
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body UpdateUserRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /admin/users/{id} [patch]
func (h *Handler) UpdateUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Staff cannot lock themselves out
	currentUserID, _ := auth.GetUserID(c)
	if user.ID == currentUserID {
		if req.IsStaff != nil && !*req.IsStaff {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove your own staff access"})
			return
		}
		if req.IsActive != nil && !*req.IsActive {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate yourself"})
			return
		}
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsStaff != nil {
		updates["is_staff"] = *req.IsStaff
	}

	if len(updates) > 0 {
		if err := h.db.Model(user).Updates(updates).Error; err != nil {
			respondError(c, apperror.Persistence("update user", err))
			return
		}
	}

	// Reload user
	h.db.First(user, user.ID)
	c.JSON(http.StatusOK, h.toResponse(*user))
}

// DeleteUser removes a user with their recipes, tags, ingredients and API keys
// @Summary Delete user
// @Tags admin
// @Param id path int true "User ID"
// @Success 204
// @Failure 400 {object} map[string]string "Cannot delete yourself"
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /admin/users/{id} [delete]
func (h *Handler) DeleteUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	currentUserID, _ := auth.GetUserID(c)
	if user.ID == currentUserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}

	var imagePaths []string
	err := h.db.Model(&models.Recipe{}).Where("user_id = ? AND image <> ''", user.ID).Pluck("image", &imagePaths).Error
	if err != nil {
		respondError(c, apperror.Persistence("delete user", err))
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		recipeIDs := tx.Model(&models.Recipe{}).Select("id").Where("user_id = ?", user.ID)
		for _, kind := range []models.Kind{models.KindTag, models.KindIngredient} {
			if err := tx.Exec("DELETE FROM "+kind.JoinTable()+" WHERE recipe_id IN (?)", recipeIDs).Error; err != nil {
				return err
			}
		}
		for _, model := range []interface{}{&models.Recipe{}, &models.Tag{}, &models.Ingredient{}, &models.APIKey{}} {
			if err := tx.Where("user_id = ?", user.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(user).Error
	})
	if err != nil {
		respondError(c, apperror.Persistence("delete user", err))
		return
	}

	// Files go only once the rows are gone
	if h.images != nil {
		for _, rel := range imagePaths {
			if err := h.images.Remove(rel); err != nil {
				slog.Warn("failed to remove image", slog.String("path", rel), slog.String("error", err.Error()))
			}
		}
	}

	c.Status(http.StatusNoContent)
}

// GetStats returns system-wide statistics (staff only)
// @Summary System statistics
// @Tags admin
// @Produce json
// @Success 200 {object} StatsResponse
// @Security BearerAuth
// @Router /admin/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	var stats StatsResponse

	counts := []struct {
		query *gorm.DB
		dst   *int64
	}{
		{h.db.Model(&models.User{}), &stats.TotalUsers},
		{h.db.Model(&models.User{}).Where("is_active = ?", true), &stats.ActiveUsers},
		{h.db.Model(&models.User{}).Where("is_staff = ?", true), &stats.StaffUsers},
		{h.db.Model(&models.Recipe{}), &stats.TotalRecipes},
		{h.db.Model(&models.Recipe{}).Where("image <> ''"), &stats.RecipesWithImage},
		{h.db.Model(&models.Tag{}), &stats.TotalTags},
		{h.db.Model(&models.Ingredient{}), &stats.TotalIngredients},
		{h.db.Model(&models.APIKey{}), &stats.ActiveAPIKeys},
	}
	for _, q := range counts {
		if err := q.query.Count(q.dst).Error; err != nil {
			respondError(c, apperror.Persistence("count stats", err))
			return
		}
	}

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers admin routes on the given router group. The
// caller is expected to have applied authentication and auth.RequireStaff.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PATCH("/users/:id", h.UpdateUser)
	rg.DELETE("/users/:id", h.DeleteUser)
}
