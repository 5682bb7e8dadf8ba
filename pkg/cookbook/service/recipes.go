// Package service holds the transactional operations behind the recipe, tag
// and ingredient endpoints.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/resolver"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecipeInput carries the writable recipe fields. A nil field was absent from
// the request. For Tags and Ingredients an empty, non-nil slice means "no
// tags" while nil means "leave them alone". The owner always comes from the
// authenticated caller.
type RecipeInput struct {
	Title       *string                `json:"title" validate:"omitempty,max=255"`
	TimeMinutes *int                   `json:"time_minutes" validate:"omitempty,min=0"`
	Price       *decimal.Decimal       `json:"price"`
	Link        *string                `json:"link"`
	Description *string                `json:"description"`
	Tags        *[]resolver.Descriptor `json:"tags"`
	Ingredients *[]resolver.Descriptor `json:"ingredients"`
}

// RecipeFilter narrows List to recipes linked to any of the given ids
type RecipeFilter struct {
	TagIDs        []uint
	IngredientIDs []uint
}

// ImageStore persists uploaded recipe images
type ImageStore interface {
	Save(r io.Reader) (string, error)
	Remove(rel string) error
}

// RecipeService runs recipe operations, each in its own transaction
type RecipeService struct {
	db       *gorm.DB
	resolver *resolver.Resolver
	images   ImageStore
	log      *slog.Logger
}

// NewRecipeService creates a recipe service. images may be nil when uploads
// are not served.
func NewRecipeService(db *gorm.DB, r *resolver.Resolver, images ImageStore, log *slog.Logger) *RecipeService {
	if log == nil {
		log = slog.Default()
	}
	return &RecipeService{db: db, resolver: r, images: images, log: log}
}

var errRecipeNotFound = apperror.NotFound("Recipe")

// validateInput checks in without touching the store. requireAll is set for
// create and full replacement.
func validateInput(in *RecipeInput, requireAll bool) error {
	if requireAll {
		switch {
		case in.Title == nil:
			return apperror.ValidationFailed("title", "This field is required.")
		case in.TimeMinutes == nil:
			return apperror.ValidationFailed("time_minutes", "This field is required.")
		case in.Price == nil:
			return apperror.ValidationFailed("price", "This field is required.")
		}
	}

	if err := validateStruct(in); err != nil {
		return err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return apperror.ValidationFailed("title", "This field may not be blank.")
		}
		in.Title = &title
	}
	if in.Link != nil {
		// An empty link is allowed and clears it
		if err := validateVar("link", *in.Link, "omitempty,max=255,url"); err != nil {
			return err
		}
	}
	if in.Price != nil {
		if err := validatePrice(*in.Price); err != nil {
			return err
		}
	}
	if in.Tags != nil {
		if _, err := resolver.Normalize(models.KindTag, *in.Tags); err != nil {
			return err
		}
	}
	if in.Ingredients != nil {
		if _, err := resolver.Normalize(models.KindIngredient, *in.Ingredients); err != nil {
			return err
		}
	}
	return nil
}

// List returns the owner's recipes, newest first
func (s *RecipeService) List(ctx context.Context, ownerID uint, filter RecipeFilter) ([]models.Recipe, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", ownerID)
	if len(filter.TagIDs) > 0 {
		q = q.Where("id IN (?)", s.db.Table(models.KindTag.JoinTable()).
			Select("recipe_id").Where("tag_id IN ?", filter.TagIDs))
	}
	if len(filter.IngredientIDs) > 0 {
		q = q.Where("id IN (?)", s.db.Table(models.KindIngredient.JoinTable()).
			Select("recipe_id").Where("ingredient_id IN ?", filter.IngredientIDs))
	}

	var recipes []models.Recipe
	if err := withAttributes(q).Order("id DESC").Find(&recipes).Error; err != nil {
		return nil, apperror.Persistence("list recipes", err)
	}
	return recipes, nil
}

// Retrieve loads one of the owner's recipes. Someone else's recipe is
// reported as not found.
func (s *RecipeService) Retrieve(ctx context.Context, ownerID, id uint) (*models.Recipe, error) {
	return load(withAttributes(s.db.WithContext(ctx)), ownerID, id)
}

// Create stores a recipe with its tags and ingredients
func (s *RecipeService) Create(ctx context.Context, ownerID uint, in RecipeInput) (*models.Recipe, error) {
	if err := validateInput(&in, true); err != nil {
		return nil, err
	}

	recipe := &models.Recipe{
		UserID:      ownerID,
		Title:       *in.Title,
		TimeMinutes: *in.TimeMinutes,
		Price:       *in.Price,
	}
	if in.Link != nil {
		recipe.Link = *in.Link
	}
	if in.Description != nil {
		recipe.Description = *in.Description
	}

	res, flush := s.resolver.Deferred()

	var created *models.Recipe
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(recipe).Error; err != nil {
			return apperror.Persistence("create recipe", err)
		}
		if err := attachAll(ctx, tx, res, ownerID, in, recipe); err != nil {
			return err
		}

		var err error
		created, err = load(withAttributes(tx), ownerID, recipe.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	flush()
	return created, nil
}

// Update applies the present fields of in to the owner's recipe
func (s *RecipeService) Update(ctx context.Context, ownerID, id uint, in RecipeInput) (*models.Recipe, error) {
	return s.update(ctx, ownerID, id, in, false)
}

// Replace is Update with title, time_minutes and price required
func (s *RecipeService) Replace(ctx context.Context, ownerID, id uint, in RecipeInput) (*models.Recipe, error) {
	return s.update(ctx, ownerID, id, in, true)
}

func (s *RecipeService) update(ctx context.Context, ownerID, id uint, in RecipeInput, requireAll bool) (*models.Recipe, error) {
	if err := validateInput(&in, requireAll); err != nil {
		return nil, err
	}

	res, flush := s.resolver.Deferred()

	var updated *models.Recipe
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recipe, err := load(tx, ownerID, id)
		if err != nil {
			return err
		}

		// A present list replaces the set, an absent one is left alone
		if in.Tags != nil {
			if err := tx.Model(recipe).Association(models.KindTag.Association()).Clear(); err != nil {
				return apperror.Persistence("clear tags", err)
			}
		}
		if in.Ingredients != nil {
			if err := tx.Model(recipe).Association(models.KindIngredient.Association()).Clear(); err != nil {
				return apperror.Persistence("clear ingredients", err)
			}
		}
		if err := attachAll(ctx, tx, res, ownerID, in, recipe); err != nil {
			return err
		}

		if fields := scalarUpdates(in); len(fields) > 0 {
			if err := tx.Model(recipe).Omit(clause.Associations).Updates(fields).Error; err != nil {
				return apperror.Persistence("update recipe", err)
			}
		}

		updated, err = load(withAttributes(tx), ownerID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	flush()
	return updated, nil
}

// Delete removes the owner's recipe and its tag and ingredient links. The
// tags and ingredients themselves survive.
func (s *RecipeService) Delete(ctx context.Context, ownerID, id uint) error {
	var image string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recipe, err := load(tx, ownerID, id)
		if err != nil {
			return err
		}
		image = recipe.Image
		if err := tx.Select(clause.Associations).Delete(recipe).Error; err != nil {
			return apperror.Persistence("delete recipe", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.removeImage(image)
	return nil
}

// SetImage stores the uploaded image and points the recipe at it. The
// previous image file, if any, is removed.
func (s *RecipeService) SetImage(ctx context.Context, ownerID, id uint, image io.Reader) (*models.Recipe, error) {
	if s.images == nil {
		return nil, errors.New("image uploads are not configured")
	}

	recipe, err := load(s.db.WithContext(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}

	rel, err := s.images.Save(image)
	if err != nil {
		return nil, err
	}

	previous := recipe.Image
	if err := s.db.WithContext(ctx).Model(recipe).Update("image", rel).Error; err != nil {
		s.removeImage(rel)
		return nil, apperror.Persistence("set recipe image", err)
	}

	s.removeImage(previous)
	recipe.Image = rel
	return recipe, nil
}

func attachAll(ctx context.Context, tx *gorm.DB, res *resolver.Resolver, ownerID uint, in RecipeInput, recipe *models.Recipe) error {
	if in.Tags != nil {
		if err := res.ResolveAndAttach(ctx, tx, models.KindTag, ownerID, *in.Tags, recipe); err != nil {
			return err
		}
	}
	if in.Ingredients != nil {
		if err := res.ResolveAndAttach(ctx, tx, models.KindIngredient, ownerID, *in.Ingredients, recipe); err != nil {
			return err
		}
	}
	return nil
}

func (s *RecipeService) removeImage(rel string) {
	if rel == "" || s.images == nil {
		return
	}
	if err := s.images.Remove(rel); err != nil {
		s.log.Warn("failed to remove image", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

func scalarUpdates(in RecipeInput) map[string]interface{} {
	fields := map[string]interface{}{}
	if in.Title != nil {
		fields["title"] = *in.Title
	}
	if in.TimeMinutes != nil {
		fields["time_minutes"] = *in.TimeMinutes
	}
	if in.Price != nil {
		fields["price"] = *in.Price
	}
	if in.Link != nil {
		fields["link"] = *in.Link
	}
	if in.Description != nil {
		fields["description"] = *in.Description
	}
	return fields
}

func withAttributes(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tags.name") }).
		Preload("Ingredients", func(db *gorm.DB) *gorm.DB { return db.Order("ingredients.name") })
}

func load(db *gorm.DB, ownerID, id uint) (*models.Recipe, error) {
	var recipe models.Recipe
	err := db.Where("id = ? AND user_id = ?", id, ownerID).First(&recipe).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errRecipeNotFound
	}
	if err != nil {
		return nil, apperror.Persistence("load recipe", err)
	}
	return &recipe, nil
}
