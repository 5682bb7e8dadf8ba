package apikeys

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/database"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Open(":memory:", database.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	models.AutoMigrate(db)
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) models.User {
	user, err := auth.CreateUser(db, email, "password123", "Test User")
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return *user
}

func testSigner(t *testing.T) *auth.Signer {
	signer, err := auth.NewSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return signer
}

func setupTestRouter(t *testing.T, db *gorm.DB) (*gin.Engine, *auth.Signer) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	signer := testSigner(t)
	handler := NewHandler(db)

	api := r.Group("/api")
	api.Use(CombinedAuthMiddleware(db, signer))
	handler.RegisterRoutes(api)
	api.GET("/whoami", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})

	return r, signer
}

func getAuthHeader(signer *auth.Signer, user models.User) string {
	token, _ := signer.GenerateToken(user.ID, user.Email, user.IsStaff)
	return "Bearer " + token
}

func createKey(t *testing.T, router *gin.Engine, authHeader, description string) CreateAPIKeyResponse {
	jsonBody, _ := json.Marshal(CreateAPIKeyRequest{Description: description})
	req, _ := http.NewRequest("POST", "/api/api-keys", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var response CreateAPIKeyResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	return response
}

func TestCreateAPIKey(t *testing.T) {
	db := setupTestDB(t)
	router, signer := setupTestRouter(t, db)
	user := createTestUser(t, db, "test@example.com")

	response := createKey(t, router, getAuthHeader(signer, user), "Test API Key")

	if len(response.Key) != KeyLength*2 { // hex encoding doubles the length
		t.Errorf("Expected key length %d, got %d", KeyLength*2, len(response.Key))
	}
	if response.KeyPrefix != response.Key[:KeyPrefixLength] {
		t.Error("Key prefix should match the start of the key")
	}
	if response.Description != "Test API Key" {
		t.Errorf("Expected description 'Test API Key', got '%s'", response.Description)
	}

	// Only the hash is stored
	var stored models.APIKey
	db.First(&stored, response.ID)
	if stored.KeyHash == response.Key || stored.KeyHash != hashAPIKey(response.Key) {
		t.Error("Expected stored key to be the SHA-256 hash of the issued key")
	}
}

func TestCreateAPIKeyWithoutBody(t *testing.T) {
	db := setupTestDB(t)
	router, signer := setupTestRouter(t, db)
	user := createTestUser(t, db, "test@example.com")

	req, _ := http.NewRequest("POST", "/api/api-keys", nil)
	req.Header.Set("Authorization", getAuthHeader(signer, user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListAPIKeysOnlyOwn(t *testing.T) {
	db := setupTestDB(t)
	router, signer := setupTestRouter(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")

	createKey(t, router, getAuthHeader(signer, alice), "one")
	createKey(t, router, getAuthHeader(signer, alice), "two")
	createKey(t, router, getAuthHeader(signer, bob), "bob's")

	req, _ := http.NewRequest("GET", "/api/api-keys", nil)
	req.Header.Set("Authorization", getAuthHeader(signer, alice))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var keys []APIKeyResponse
	json.Unmarshal(resp.Body.Bytes(), &keys)
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}
	if bytes.Contains(resp.Body.Bytes(), []byte(`"key"`)) {
		t.Error("List must not expose full keys")
	}
}

func TestDeleteAPIKey(t *testing.T) {
	db := setupTestDB(t)
	router, signer := setupTestRouter(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")

	key := createKey(t, router, getAuthHeader(signer, alice), "doomed")

	// Another user's key is not found
	req, _ := http.NewRequest("DELETE", "/api/api-keys/"+itoa(key.ID), nil)
	req.Header.Set("Authorization", getAuthHeader(signer, bob))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}

	req, _ = http.NewRequest("DELETE", "/api/api-keys/"+itoa(key.ID), nil)
	req.Header.Set("Authorization", getAuthHeader(signer, alice))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.Code)
	}

	// The revoked key no longer authenticates
	req, _ = http.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Token "+key.Key)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for revoked key, got %d", resp.Code)
	}
}

func TestCombinedAuthMiddleware(t *testing.T) {
	db := setupTestDB(t)
	router, signer := setupTestRouter(t, db)
	user := createTestUser(t, db, "test@example.com")
	key := createKey(t, router, getAuthHeader(signer, user), "cli")

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"jwt", getAuthHeader(signer, user), http.StatusOK},
		{"token scheme", "Token " + key.Key, http.StatusOK},
		{"bearer api key", "Bearer " + key.Key, http.StatusOK},
		{"unknown key", "Token deadbeef", http.StatusUnauthorized},
		{"bad jwt", "Bearer a.b.c", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/api/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, resp.Code, resp.Body.String())
			}
		})
	}

	var stored models.APIKey
	db.First(&stored, key.ID)
	if stored.LastUsedAt == nil {
		t.Error("Expected last_used_at to be recorded")
	}
}

func TestCombinedAuthRefusesInactiveUser(t *testing.T) {
	db := setupTestDB(t)
	router, signer := setupTestRouter(t, db)
	user := createTestUser(t, db, "test@example.com")
	key := createKey(t, router, getAuthHeader(signer, user), "cli")

	db.Model(&user).Update("is_active", false)

	for _, header := range []string{getAuthHeader(signer, user), "Token " + key.Key} {
		req, _ := http.NewRequest("GET", "/api/whoami", nil)
		req.Header.Set("Authorization", header)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401 for inactive user, got %d", resp.Code)
		}
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
