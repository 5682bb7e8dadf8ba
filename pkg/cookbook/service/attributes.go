package service

import (
	"context"
	"errors"

	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/resolver"
	"gorm.io/gorm"
)

// AttributeService manages one user's tags or ingredients directly, outside
// of a recipe write.
type AttributeService[T any, P models.AttributePtr[T]] struct {
	db   *gorm.DB
	kind models.Kind
}

// NewAttributeService creates the service for T, e.g.
// NewAttributeService[models.Tag](db).
func NewAttributeService[T any, P models.AttributePtr[T]](db *gorm.DB) *AttributeService[T, P] {
	var zero T
	return &AttributeService[T, P]{db: db, kind: P(&zero).Kind()}
}

// Kind reports which attribute collection the service manages
func (s *AttributeService[T, P]) Kind() models.Kind {
	return s.kind
}

// List returns the owner's entities ordered by name descending. With
// assignedOnly set, only those linked to at least one recipe are returned.
func (s *AttributeService[T, P]) List(ctx context.Context, ownerID uint, assignedOnly bool) ([]T, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", ownerID)
	if assignedOnly {
		q = q.Where("id IN (?)", s.db.Table(s.kind.JoinTable()).Select(s.kind.JoinColumn()))
	}

	var items []T
	if err := q.Order("name DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, apperror.Persistence("list "+s.kind.Plural(), err)
	}
	return items, nil
}

// Update renames one of the owner's entities. Taking a name the owner
// already uses for another entity of the same kind is a conflict.
func (s *AttributeService[T, P]) Update(ctx context.Context, ownerID, id uint, name string) (*T, error) {
	names, err := resolver.Normalize(s.kind, resolver.Names(name))
	if err != nil {
		return nil, nameError(err)
	}
	name = names[0]

	var item *T
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = s.load(tx, ownerID, id)
		if err != nil {
			return err
		}
		if P(item).GetName() == name {
			return nil
		}

		var taken int64
		if err := tx.Model(new(T)).Where("user_id = ? AND name = ? AND id <> ?", ownerID, name, id).
			Count(&taken).Error; err != nil {
			return apperror.Persistence("check "+string(s.kind)+" name", err)
		}
		if taken > 0 {
			return s.nameTaken()
		}

		if err := tx.Model(item).Update("name", name).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.nameTaken()
			}
			return apperror.Persistence("rename "+string(s.kind), err)
		}
		P(item).Assign(ownerID, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes one of the owner's entities and unlinks it from every recipe
func (s *AttributeService[T, P]) Delete(ctx context.Context, ownerID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.load(tx, ownerID, id)
		if err != nil {
			return err
		}

		if err := tx.Exec("DELETE FROM "+s.kind.JoinTable()+" WHERE "+s.kind.JoinColumn()+" = ?", id).Error; err != nil {
			return apperror.Persistence("unlink "+string(s.kind), err)
		}
		if err := tx.Delete(item).Error; err != nil {
			return apperror.Persistence("delete "+string(s.kind), err)
		}
		return nil
	})
}

func (s *AttributeService[T, P]) load(db *gorm.DB, ownerID, id uint) (*T, error) {
	item := new(T)
	err := db.Where("id = ? AND user_id = ?", id, ownerID).First(item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound(s.kind.Title())
	}
	if err != nil {
		return nil, apperror.Persistence("load "+string(s.kind), err)
	}
	return item, nil
}

func (s *AttributeService[T, P]) nameTaken() error {
	return apperror.Conflict("name", s.kind.Title()+" with this name already exists.")
}

// nameError reports a bad rename under the "name" field rather than the
// collection name the resolver uses.
func nameError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return apperror.ValidationFailed("name", appErr.Message)
	}
	return err
}
