package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"gorm.io/gorm"
)

// Handler handles registration, token issue and the caller's own profile
type Handler struct {
	db     *gorm.DB
	signer *Signer
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, signer *Signer) *Handler {
	return &Handler{db: db, signer: signer}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=5"`
	Name     string `json:"name" binding:"required,max=255"`
}

// TokenRequest represents the token request body
type TokenRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries an issued JWT
type TokenResponse struct {
	Token string `json:"token"`
}

// UpdateMeRequest updates the caller's account. Absent fields keep their value.
type UpdateMeRequest struct {
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
	Password *string `json:"password" binding:"omitempty,min=5"`
	Name     *string `json:"name" binding:"omitempty,max=255"`
}

// UserResponse represents user data in responses. It never includes the password.
type UserResponse struct {
	ID      uint   `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsStaff bool   `json:"is_staff"`
}

func toUserResponse(u models.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, IsStaff: u.IsStaff}
}

var errBadCredentials = apperror.ValidationFailed("", "Unable to authenticate with provided credentials.")

// Register handles user registration
// @Summary Register a new user
// @Description Create a new user account
// @Tags user
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration details"
// @Success 201 {object} UserResponse
// @Failure 400 {object} map[string]string "Validation error or email already registered"
// @Router /user/create [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := CreateUser(h.db, req.Email, req.Password, req.Name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(apperror.HTTP(err))
		return
	}

	c.JSON(http.StatusCreated, toUserResponse(*user))
}

// CreateUser normalizes the email, hashes the password and stores a new
// active user. A taken email is a conflict.
func CreateUser(db *gorm.DB, email, password, name string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "This field is required.")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, apperror.Persistence("check email", err)
	}
	if count > 0 {
		return nil, errEmailTaken
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, apperror.Persistence("hash password", err)
	}

	user := models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Name:         name,
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errEmailTaken
		}
		return nil, apperror.Persistence("create user", err)
	}
	return &user, nil
}

var errEmailTaken = apperror.Conflict("email", "user with this email already exists.")

// Token exchanges credentials for a JWT
// @Summary Create token
// @Description Authenticate with email and password to receive a JWT token
// @Tags user
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Credentials"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} map[string]string "Invalid credentials"
// @Router /user/token [post]
func (h *Handler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Unknown email, wrong password and inactive account look the same
	var user models.User
	if err := h.db.Where("email = ?", models.NormalizeEmail(req.Email)).First(&user).Error; err != nil {
		c.JSON(apperror.HTTP(errBadCredentials))
		return
	}
	if !CheckPassword(req.Password, user.PasswordHash) || !user.IsActive {
		c.JSON(apperror.HTTP(errBadCredentials))
		return
	}

	token, err := h.signer.GenerateToken(user.ID, user.Email, user.IsStaff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	now := time.Now()
	if err := h.db.Model(&user).Update("last_login", now).Error; err != nil {
		_ = c.Error(apperror.Persistence("record last login", err))
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token})
}

// Me returns the current authenticated user
// @Summary Get current user
// @Tags user
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} map[string]string "Authentication required"
// @Security BearerAuth
// @Router /user/me [get]
func (h *Handler) Me(c *gin.Context) {
	user, ok := h.loadCaller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toUserResponse(*user))
}

// UpdateMe updates the current user's email, name or password.
// PUT requires every field; PATCH accepts any subset.
// @Summary Update current user
// @Tags user
// @Accept json
// @Produce json
// @Param request body UpdateMeRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Security BearerAuth
// @Router /user/me [patch]
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Request.Method == http.MethodPut {
		for field, v := range map[string]*string{"email": req.Email, "password": req.Password, "name": req.Name} {
			if v == nil {
				c.JSON(apperror.HTTP(apperror.ValidationFailed(field, "This field is required.")))
				return
			}
		}
	}

	user, ok := h.loadCaller(c)
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		email := models.NormalizeEmail(*req.Email)
		if email != user.Email {
			var count int64
			h.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, user.ID).Count(&count)
			if count > 0 {
				c.JSON(apperror.HTTP(errEmailTaken))
				return
			}
			updates["email"] = email
		}
	}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Password != nil {
		hash, err := HashPassword(*req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
			return
		}
		updates["password_hash"] = hash
	}

	if len(updates) > 0 {
		if err := h.db.Model(user).Updates(updates).Error; err != nil {
			err := apperror.Persistence("update user", err)
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				c.JSON(apperror.HTTP(errEmailTaken))
				return
			}
			_ = c.Error(err)
			c.JSON(apperror.HTTP(err))
			return
		}
	}

	h.db.First(user, user.ID)
	c.JSON(http.StatusOK, toUserResponse(*user))
}

func (h *Handler) loadCaller(c *gin.Context) (*models.User, bool) {
	userID, exists := GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, false
	}
	return &user, true
}

// RegisterRoutes registers user routes on the given router group.
// requireAuth guards the profile routes; tokenMiddleware runs before the
// token endpoint (rate limiting).
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, requireAuth gin.HandlerFunc, tokenMiddleware ...gin.HandlerFunc) {
	user := rg.Group("/user")
	user.POST("/create", h.Register)
	user.POST("/token", append(tokenMiddleware, h.Token)...)
	user.GET("/me", requireAuth, h.Me)
	user.PUT("/me", requireAuth, h.UpdateMe)
	user.PATCH("/me", requireAuth, h.UpdateMe)
}
