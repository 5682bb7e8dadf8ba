package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/database"
	"github.com/mikepea/cookbook/pkg/cookbook/logging"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/ratelimit"
	"github.com/mikepea/cookbook/pkg/cookbook/server"
	"gorm.io/gorm"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Open(":memory:", database.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// setupFullServer builds the same router cmd/cookbook-server serves
func setupFullServer(t *testing.T, db *gorm.DB) http.Handler {
	signer, err := auth.NewSigner("integration-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	limiter := ratelimit.New(1000, 1000, time.Minute)
	t.Cleanup(limiter.Stop)

	gin.SetMode(gin.TestMode)
	return server.NewRouter(db, server.Options{
		Signer:     signer,
		MediaRoot:  t.TempDir(),
		TokenLimit: limiter,
		Logger:     logging.New(logging.Config{Writer: discard{}}),
	})
}

type client struct {
	t      *testing.T
	router http.Handler
	auth   string
}

func (c *client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	resp := httptest.NewRecorder()
	c.router.ServeHTTP(resp, req)
	return resp
}

func (c *client) expect(resp *httptest.ResponseRecorder, status int, out interface{}) {
	c.t.Helper()
	if resp.Code != status {
		c.t.Fatalf("Expected status %d, got %d: %s", status, resp.Code, resp.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
			c.t.Fatalf("decode response: %v", err)
		}
	}
}

// signUp registers a user through the API and returns a client using a JWT
func signUp(t *testing.T, router http.Handler, email string) *client {
	c := &client{t: t, router: router}
	c.expect(c.do("POST", "/api/user/create", map[string]string{
		"email": email, "password": "testpass123", "name": "Test Cook",
	}), http.StatusCreated, nil)

	var token struct {
		Token string `json:"token"`
	}
	c.expect(c.do("POST", "/api/user/token", map[string]string{
		"email": email, "password": "testpass123",
	}), http.StatusOK, &token)

	c.auth = "Bearer " + token.Token
	return c
}

type attribute struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type recipe struct {
	ID          uint        `json:"id"`
	Title       string      `json:"title"`
	TimeMinutes int         `json:"time_minutes"`
	Price       string      `json:"price"`
	Link        string      `json:"link"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Tags        []attribute `json:"tags"`
	Ingredients []attribute `json:"ingredients"`
}

func tagNames(r recipe) map[string]bool {
	out := map[string]bool{}
	for _, t := range r.Tags {
		out[t.Name] = true
	}
	return out
}

// TestServerStartup verifies that all routes can be registered without conflicts
func TestServerStartup(t *testing.T) {
	db := setupTestDB(t)

	// This will panic if there are route conflicts
	router := setupFullServer(t, db)

	if router == nil {
		t.Fatal("Expected router to be created")
	}
}

// TestProtectedEndpointsRequireAuth verifies that protected endpoints return 401 without auth
func TestProtectedEndpointsRequireAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)

	protectedEndpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/recipes"},
		{"POST", "/api/recipes"},
		{"GET", "/api/recipes/1"},
		{"PATCH", "/api/recipes/1"},
		{"DELETE", "/api/recipes/1"},
		{"POST", "/api/recipes/1/upload-image"},
		{"GET", "/api/tags"},
		{"GET", "/api/ingredients"},
		{"GET", "/api/recipes/export"},
		{"POST", "/api/recipes/import"},
		{"GET", "/api/api-keys"},
		{"GET", "/api/user/me"},
	}

	for _, endpoint := range protectedEndpoints {
		t.Run(endpoint.method+" "+endpoint.path, func(t *testing.T) {
			req, _ := http.NewRequest(endpoint.method, endpoint.path, nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			if resp.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401 for %s %s, got %d", endpoint.method, endpoint.path, resp.Code)
			}
		})
	}
}

// TestPublicEndpointsNoAuth verifies that public endpoints don't require auth
func TestPublicEndpointsNoAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)

	publicEndpoints := []struct {
		method       string
		path         string
		expectedCode int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/api/health", http.StatusOK},
		{"POST", "/api/user/create", http.StatusBadRequest}, // Bad request (no body), but not 401
		{"POST", "/api/user/token", http.StatusBadRequest},
	}

	for _, endpoint := range publicEndpoints {
		t.Run(endpoint.method+" "+endpoint.path, func(t *testing.T) {
			req, _ := http.NewRequest(endpoint.method, endpoint.path, nil)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)

			if resp.Code != endpoint.expectedCode {
				t.Errorf("Expected status %d for %s %s, got %d", endpoint.expectedCode, endpoint.method, endpoint.path, resp.Code)
			}
		})
	}
}

// TestCreateRecipeWithNewTags registers, logs in and creates a recipe with
// two new tags, then checks they belong to the caller.
func TestCreateRecipeWithNewTags(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")

	var created recipe
	cook.expect(cook.do("POST", "/api/recipes", map[string]interface{}{
		"title":        "Thai prawn curry",
		"time_minutes": 30,
		"price":        "2.50",
		"tags":         []map[string]string{{"name": "Thai"}, {"name": "Dinner"}},
	}), http.StatusCreated, &created)

	if len(created.Tags) != 2 {
		t.Fatalf("Expected 2 tags, got %d", len(created.Tags))
	}
	names := tagNames(created)
	if !names["Thai"] || !names["Dinner"] {
		t.Errorf("Expected tags Thai and Dinner, got %v", names)
	}
	if created.Price != "2.50" {
		t.Errorf("Expected price 2.50, got %s", created.Price)
	}

	var user models.User
	db.Where("email = ?", "cook@example.com").First(&user)
	var owned int64
	db.Model(&models.Tag{}).Where("user_id = ? AND name IN ?", user.ID, []string{"Thai", "Dinner"}).Count(&owned)
	if owned != 2 {
		t.Errorf("Expected both tags owned by the creator, got %d", owned)
	}

	var stored models.Recipe
	db.Preload("Tags").First(&stored, created.ID)
	if n := db.Model(&stored).Association("Tags").Count(); n != 2 {
		t.Errorf("Expected recipe to have 2 tags, got %d", n)
	}
}

// TestTagsReusedAcrossRecipes checks a second recipe naming an existing tag
// links it instead of creating a duplicate.
func TestTagsReusedAcrossRecipes(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")

	var first, second recipe
	cook.expect(cook.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Pongal", "time_minutes": 60, "price": "4.50",
		"tags": []map[string]string{{"name": "Indian"}, {"name": "Breakfast"}},
	}), http.StatusCreated, &first)
	cook.expect(cook.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Dal", "time_minutes": 40, "price": "3.00",
		"tags": []map[string]string{{"name": "Indian"}, {"name": "Lunch"}, {"name": "Lunch"}},
	}), http.StatusCreated, &second)

	if len(second.Tags) != 2 {
		t.Errorf("Expected duplicate names to collapse to 2 tags, got %d", len(second.Tags))
	}

	var tags []attribute
	cook.expect(cook.do("GET", "/api/tags", nil), http.StatusOK, &tags)
	if len(tags) != 3 {
		t.Fatalf("Expected 3 tags, got %d", len(tags))
	}
	// name descending
	if tags[0].Name != "Lunch" || tags[2].Name != "Breakfast" {
		t.Errorf("Unexpected tag order: %v", tags)
	}

	var indian attribute
	for _, tag := range first.Tags {
		if tag.Name == "Indian" {
			indian = tag
		}
	}
	var filtered []recipe
	cook.expect(cook.do("GET", fmt.Sprintf("/api/recipes?tags=%d", indian.ID), nil), http.StatusOK, &filtered)
	if len(filtered) != 2 {
		t.Errorf("Expected both recipes under the Indian tag, got %d", len(filtered))
	}
}

// TestUpdateRecipeTags covers replacing, clearing and leaving tags alone
func TestUpdateRecipeTags(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")

	var r recipe
	cook.expect(cook.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Toast", "time_minutes": 5, "price": "1.00",
		"tags": []map[string]string{{"name": "Breakfast"}},
	}), http.StatusCreated, &r)
	path := fmt.Sprintf("/api/recipes/%d", r.ID)

	// Tags absent: unchanged
	cook.expect(cook.do("PATCH", path, map[string]interface{}{"title": "Cheese toast"}), http.StatusOK, &r)
	if r.Title != "Cheese toast" || len(r.Tags) != 1 {
		t.Errorf("Expected title change only, got %+v", r)
	}

	// Tags replaced
	cook.expect(cook.do("PATCH", path, map[string]interface{}{
		"tags": []map[string]string{{"name": "Lunch"}},
	}), http.StatusOK, &r)
	if len(r.Tags) != 1 || r.Tags[0].Name != "Lunch" {
		t.Errorf("Expected tags replaced by Lunch, got %v", r.Tags)
	}

	// Empty list clears
	cook.expect(cook.do("PATCH", path, map[string]interface{}{"tags": []string{}}), http.StatusOK, &r)
	if len(r.Tags) != 0 {
		t.Errorf("Expected no tags, got %v", r.Tags)
	}

	// Replaced tags still exist
	var tags []attribute
	cook.expect(cook.do("GET", "/api/tags", nil), http.StatusOK, &tags)
	if len(tags) != 2 {
		t.Errorf("Expected Breakfast and Lunch to survive, got %v", tags)
	}

	// PUT requires the scalar fields
	resp := cook.do("PUT", path, map[string]interface{}{"title": "Only title"})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for incomplete PUT, got %d", resp.Code)
	}
}

// TestUsersAreIsolated checks another user's recipe and tags are invisible
func TestUsersAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	alice := signUp(t, router, "alice@example.com")
	bob := signUp(t, router, "bob@example.com")

	var r recipe
	alice.expect(alice.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Secret soup", "time_minutes": 15, "price": "3.00",
		"tags": []map[string]string{{"name": "Vegan"}},
	}), http.StatusCreated, &r)
	path := fmt.Sprintf("/api/recipes/%d", r.ID)

	for _, method := range []string{"GET", "PATCH", "DELETE"} {
		if resp := bob.do(method, path, map[string]interface{}{}); resp.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for %s on another user's recipe, got %d", method, resp.Code)
		}
	}

	var list []recipe
	bob.expect(bob.do("GET", "/api/recipes", nil), http.StatusOK, &list)
	if len(list) != 0 {
		t.Errorf("Expected no recipes for bob, got %d", len(list))
	}

	// Bob's own Vegan tag is distinct from Alice's
	var bobs recipe
	bob.expect(bob.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Salad", "time_minutes": 5, "price": "2.00",
		"tags": []map[string]string{{"name": "Vegan"}},
	}), http.StatusCreated, &bobs)
	if bobs.Tags[0].ID == r.Tags[0].ID {
		t.Error("Expected bob to get his own Vegan tag")
	}

	if resp := bob.do("PATCH", fmt.Sprintf("/api/tags/%d", r.Tags[0].ID), map[string]string{"name": "Mine"}); resp.Code != http.StatusNotFound {
		t.Errorf("Expected 404 renaming another user's tag, got %d", resp.Code)
	}
}

// TestValidationErrors checks field errors reach the client as 400s
func TestValidationErrors(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"missing title", map[string]interface{}{"time_minutes": 5, "price": "1.00"}, "title"},
		{"negative time", map[string]interface{}{"title": "x", "time_minutes": -1, "price": "1.00"}, "time_minutes"},
		{"three decimals", map[string]interface{}{"title": "x", "time_minutes": 1, "price": "1.005"}, "price"},
		{"bad link", map[string]interface{}{"title": "x", "time_minutes": 1, "price": "1.00", "link": "not a url"}, "link"},
		{"blank tag", map[string]interface{}{"title": "x", "time_minutes": 1, "price": "1.00", "tags": []map[string]string{{"name": " "}}}, "tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]interface{}
			cook.expect(cook.do("POST", "/api/recipes", tt.body), http.StatusBadRequest, &body)
			if body["field"] != tt.field {
				t.Errorf("Expected field %q, got %v", tt.field, body["field"])
			}
		})
	}

	var count int64
	db.Model(&models.Tag{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected failed creates to leave no tags, got %d", count)
	}
}

// TestAPIKeyAuthentication creates a key with a JWT session and uses it with
// the Token scheme.
func TestAPIKeyAuthentication(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")

	var key struct {
		ID  uint   `json:"id"`
		Key string `json:"key"`
	}
	cook.expect(cook.do("POST", "/api/api-keys", map[string]string{"description": "cli"}), http.StatusCreated, &key)

	byKey := &client{t: t, router: router, auth: "Token " + key.Key}
	byKey.expect(byKey.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Key recipe", "time_minutes": 1, "price": "0.00",
	}), http.StatusCreated, nil)

	var list []recipe
	cook.expect(cook.do("GET", "/api/recipes", nil), http.StatusOK, &list)
	if len(list) != 1 {
		t.Errorf("Expected the key's recipe to belong to the key owner, got %d", len(list))
	}

	cook.expect(cook.do("DELETE", fmt.Sprintf("/api/api-keys/%d", key.ID), nil), http.StatusNoContent, nil)
	if resp := byKey.do("GET", "/api/recipes", nil); resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected revoked key to be refused, got %d", resp.Code)
	}
}

// TestUploadImage uploads a PNG and fetches the stored JPEG from /media
func TestUploadImage(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")

	var r recipe
	cook.expect(cook.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Photo dish", "time_minutes": 10, "price": "1.00",
	}), http.StatusCreated, &r)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("image", "dish.png")
	png.Encode(part, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	mw.Close()

	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/recipes/%d/upload-image", r.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", cook.auth)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var uploaded struct {
		ID    uint   `json:"id"`
		Image string `json:"image"`
	}
	cook.expect(resp, http.StatusOK, &uploaded)

	fetch := httptest.NewRecorder()
	router.ServeHTTP(fetch, httptest.NewRequest("GET", uploaded.Image, nil))
	if fetch.Code != http.StatusOK {
		t.Errorf("Expected stored image to be served at %s, got %d", uploaded.Image, fetch.Code)
	}
}

// TestExportThenImport moves a user's recipes to another account
func TestExportThenImport(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	alice := signUp(t, router, "alice@example.com")
	bob := signUp(t, router, "bob@example.com")

	alice.expect(alice.do("POST", "/api/recipes", map[string]interface{}{
		"title": "Green curry", "time_minutes": 30, "price": "5.50",
		"tags":        []map[string]string{{"name": "Thai"}},
		"ingredients": []map[string]string{{"name": "Lime"}},
	}), http.StatusCreated, nil)

	var doc map[string]interface{}
	alice.expect(alice.do("GET", "/api/recipes/export", nil), http.StatusOK, &doc)

	var result struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	bob.expect(bob.do("POST", "/api/recipes/import", doc), http.StatusOK, &result)
	if result.Imported != 1 || result.Skipped != 0 {
		t.Errorf("Expected 1 imported, got %+v", result)
	}

	var ingredients []attribute
	bob.expect(bob.do("GET", "/api/ingredients?assigned_only=1", nil), http.StatusOK, &ingredients)
	if len(ingredients) != 1 || ingredients[0].Name != "Lime" {
		t.Errorf("Expected bob to own Lime, got %v", ingredients)
	}
}

// TestDeactivatedUserLosesAccess checks an unexpired token stops working
// once an admin deactivates the account.
func TestDeactivatedUserLosesAccess(t *testing.T) {
	db := setupTestDB(t)
	router := setupFullServer(t, db)
	cook := signUp(t, router, "cook@example.com")
	staff := signUp(t, router, "staff@example.com")
	db.Model(&models.User{}).Where("email = ?", "staff@example.com").Update("is_staff", true)

	var users []struct {
		ID    uint   `json:"id"`
		Email string `json:"email"`
	}
	staff.expect(staff.do("GET", "/api/admin/users?q=cook@", nil), http.StatusOK, &users)
	if len(users) != 1 {
		t.Fatalf("Expected 1 matching user, got %d", len(users))
	}

	staff.expect(staff.do("PATCH", fmt.Sprintf("/api/admin/users/%d", users[0].ID), map[string]bool{"is_active": false}), http.StatusOK, nil)

	if resp := cook.do("GET", "/api/recipes", nil); resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected deactivated user to be refused, got %d", resp.Code)
	}
	if resp := cook.do("GET", "/api/admin/users", nil); resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for deactivated user on admin routes, got %d", resp.Code)
	}
}
