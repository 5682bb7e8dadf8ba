// Package swagger registers the OpenAPI document served at /swagger.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Cookbook Support",
            "url": "https://github.com/mikepea/cookbook"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/user/create": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["user"],
                "summary": "Register a new user",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/auth.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/auth.UserResponse"}},
                    "400": {"description": "Invalid request or email taken", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            }
        },
        "/user/token": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["user"],
                "summary": "Obtain an access token",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/auth.TokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.TokenResponse"}},
                    "400": {"description": "Unable to authenticate", "schema": {"$ref": "#/definitions/apperror.Body"}},
                    "429": {"description": "Request was throttled"}
                }
            }
        },
        "/user/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["user"],
                "summary": "Get the authenticated user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.UserResponse"}},
                    "401": {"description": "Unauthorized"}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["user"],
                "summary": "Replace the authenticated user's profile",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/auth.UpdateMeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.UserResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["user"],
                "summary": "Update the authenticated user's profile",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/auth.UpdateMeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.UserResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            }
        },
        "/recipes": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "List recipes",
                "parameters": [
                    {"type": "string", "description": "Comma separated tag ids", "name": "tags", "in": "query"},
                    {"type": "string", "description": "Comma separated ingredient ids", "name": "ingredients", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/recipes.RecipeResponse"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Create a recipe",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/service.RecipeInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/recipes.RecipeDetailResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            }
        },
        "/recipes/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Get a recipe",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/recipes.RecipeDetailResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Replace a recipe",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/service.RecipeInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/recipes.RecipeDetailResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/apperror.Body"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Update a recipe",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/service.RecipeInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/recipes.RecipeDetailResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/apperror.Body"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["recipes"],
                "summary": "Delete a recipe",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            }
        },
        "/recipes/{id}/upload-image": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Upload a recipe image",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "file", "name": "image", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/recipes.ImageResponse"}},
                    "400": {"description": "Invalid image", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            }
        },
        "/recipes/export": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Export recipes",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/importexport.ExportDocument"}}
                }
            }
        },
        "/recipes/import": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["recipes"],
                "summary": "Import recipes",
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/importexport.ImportRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/importexport.ImportResult"}}
                }
            }
        },
        "/tags": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["tags"],
                "summary": "List tags",
                "parameters": [{"type": "integer", "enum": [0, 1], "name": "assigned_only", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/attributes.AttributeResponse"}}}
                }
            }
        },
        "/tags/{id}": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tags"],
                "summary": "Rename a tag",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/attributes.UpdateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/attributes.AttributeResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["tags"],
                "summary": "Delete a tag",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/ingredients": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["ingredients"],
                "summary": "List ingredients",
                "parameters": [{"type": "integer", "enum": [0, 1], "name": "assigned_only", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/attributes.AttributeResponse"}}}
                }
            }
        },
        "/ingredients/{id}": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ingredients"],
                "summary": "Rename an ingredient",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/attributes.UpdateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/attributes.AttributeResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/apperror.Body"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["ingredients"],
                "summary": "Delete an ingredient",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/api-keys": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["api-keys"],
                "summary": "List API keys",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/apikeys.APIKeyResponse"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["api-keys"],
                "summary": "Create an API key",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/apikeys.CreateAPIKeyResponse"}}
                }
            }
        },
        "/api-keys/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["api-keys"],
                "summary": "Delete an API key",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/admin/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List users",
                "parameters": [
                    {"type": "string", "name": "q", "in": "query"},
                    {"type": "boolean", "name": "is_active", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Staff only"}}
            }
        },
        "/admin/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "System statistics",
                "responses": {"200": {"description": "OK"}, "403": {"description": "Staff only"}}
            }
        }
    },
    "definitions": {
        "apperror.Body": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "field": {"type": "string"}
            }
        },
        "auth.RegisterRequest": {
            "type": "object",
            "required": ["email", "name", "password"],
            "properties": {
                "email": {"type": "string", "maxLength": 255},
                "name": {"type": "string", "maxLength": 255},
                "password": {"type": "string", "minLength": 5}
            }
        },
        "auth.TokenRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "auth.TokenResponse": {
            "type": "object",
            "properties": {"token": {"type": "string"}}
        },
        "auth.UpdateMeRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "maxLength": 255},
                "name": {"type": "string", "maxLength": 255},
                "password": {"type": "string", "minLength": 5}
            }
        },
        "auth.UserResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "email": {"type": "string"},
                "name": {"type": "string"},
                "is_staff": {"type": "boolean"}
            }
        },
        "resolver.Descriptor": {
            "type": "object",
            "properties": {"name": {"type": "string", "maxLength": 255}}
        },
        "service.RecipeInput": {
            "type": "object",
            "properties": {
                "title": {"type": "string", "maxLength": 255},
                "time_minutes": {"type": "integer", "minimum": 0},
                "price": {"type": "string", "example": "5.50"},
                "link": {"type": "string", "maxLength": 255},
                "description": {"type": "string"},
                "tags": {"type": "array", "items": {"$ref": "#/definitions/resolver.Descriptor"}},
                "ingredients": {"type": "array", "items": {"$ref": "#/definitions/resolver.Descriptor"}}
            }
        },
        "attributes.AttributeResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "name": {"type": "string"}
            }
        },
        "attributes.UpdateRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string"}}
        },
        "recipes.RecipeResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "title": {"type": "string"},
                "time_minutes": {"type": "integer"},
                "price": {"type": "string"},
                "link": {"type": "string"},
                "tags": {"type": "array", "items": {"$ref": "#/definitions/attributes.AttributeResponse"}},
                "ingredients": {"type": "array", "items": {"$ref": "#/definitions/attributes.AttributeResponse"}}
            }
        },
        "recipes.RecipeDetailResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "title": {"type": "string"},
                "time_minutes": {"type": "integer"},
                "price": {"type": "string"},
                "link": {"type": "string"},
                "description": {"type": "string"},
                "image": {"type": "string"},
                "tags": {"type": "array", "items": {"$ref": "#/definitions/attributes.AttributeResponse"}},
                "ingredients": {"type": "array", "items": {"$ref": "#/definitions/attributes.AttributeResponse"}}
            }
        },
        "recipes.ImageResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "image": {"type": "string"}
            }
        },
        "importexport.PortableRecipe": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "time_minutes": {"type": "integer"},
                "price": {"type": "string"},
                "link": {"type": "string"},
                "description": {"type": "string"},
                "tags": {"type": "array", "items": {"type": "string"}},
                "ingredients": {"type": "array", "items": {"type": "string"}},
                "created_at": {"type": "string"}
            }
        },
        "importexport.ExportDocument": {
            "type": "object",
            "properties": {
                "version": {"type": "integer"},
                "exported_at": {"type": "string"},
                "recipes": {"type": "array", "items": {"$ref": "#/definitions/importexport.PortableRecipe"}}
            }
        },
        "importexport.ImportRequest": {
            "type": "object",
            "required": ["recipes"],
            "properties": {
                "recipes": {"type": "array", "items": {"$ref": "#/definitions/importexport.PortableRecipe"}}
            }
        },
        "importexport.ImportResult": {
            "type": "object",
            "properties": {
                "imported": {"type": "integer"},
                "skipped": {"type": "integer"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "apikeys.APIKeyResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "key_prefix": {"type": "string"},
                "description": {"type": "string"},
                "last_used_at": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "apikeys.CreateAPIKeyResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "key": {"type": "string"},
                "key_prefix": {"type": "string"},
                "description": {"type": "string"},
                "created_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT or API key. Format: \"Bearer {token}\" or \"Token {key}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Cookbook API",
	Description:      "Recipe management with per-user tags and ingredients.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
