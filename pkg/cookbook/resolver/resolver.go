// Package resolver turns tag and ingredient descriptors into owned entities
// and links them to a recipe.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/mikepea/cookbook/pkg/cookbook/metrics"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxNameLength bounds tag and ingredient names
const MaxNameLength = 255

// Descriptor identifies a tag or ingredient by name. Any other field a client
// sends alongside the name is ignored.
type Descriptor struct {
	Name string `json:"name"`
}

// Names builds descriptors from plain names
func Names(names ...string) []Descriptor {
	out := make([]Descriptor, len(names))
	for i, n := range names {
		out[i] = Descriptor{Name: n}
	}
	return out
}

// Normalize trims every descriptor name and rejects blank or overlong ones.
// The returned names keep the input order, duplicates included.
func Normalize(kind models.Kind, descriptors []Descriptor) ([]string, error) {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, apperror.ValidationFailed(kind.Plural(), kind.Title()+" name may not be blank.")
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, apperror.ValidationFailed(kind.Plural(),
				fmt.Sprintf("%s name must have no more than %d characters.", kind.Title(), MaxNameLength))
		}
		names = append(names, name)
	}
	return names, nil
}

// Resolver gets or creates owned attributes and appends them to a recipe
type Resolver struct {
	// Observe is told about every resolution with metrics.OutcomeCreated or
	// metrics.OutcomeReused.
	Observe func(kind, outcome string)
}

// New returns a resolver that reports to the Prometheus counters
func New() *Resolver {
	return &Resolver{Observe: metrics.ObserveResolution}
}

// Deferred returns a resolver that holds its observations, and a flush
// function that hands them to r. Resolve through it inside a transaction and
// flush only after commit, so rolled-back creations are never counted.
func (r *Resolver) Deferred() (*Resolver, func()) {
	type observation struct{ kind, outcome string }
	var held []observation

	d := &Resolver{Observe: func(kind, outcome string) {
		held = append(held, observation{kind, outcome})
	}}
	flush := func() {
		if r.Observe == nil {
			return
		}
		for _, o := range held {
			r.Observe(o.kind, o.outcome)
		}
		held = nil
	}
	return d, flush
}

// ResolveAndAttach makes sure an entity of kind exists for every descriptor
// under ownerID and links each one to recipe. Entities already linked stay
// linked and nothing is ever unlinked. tx should be the caller's transaction;
// the recipe must already be persisted.
func (r *Resolver) ResolveAndAttach(ctx context.Context, tx *gorm.DB, kind models.Kind, ownerID uint, descriptors []Descriptor, recipe *models.Recipe) error {
	names, err := Normalize(kind, descriptors)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	tx = tx.WithContext(ctx)
	switch kind {
	case models.KindTag:
		return attach[models.Tag](r, tx, kind, ownerID, names, recipe)
	case models.KindIngredient:
		return attach[models.Ingredient](r, tx, kind, ownerID, names, recipe)
	default:
		return fmt.Errorf("resolver: unknown kind %q", kind)
	}
}

func attach[T any, P models.AttributePtr[T]](r *Resolver, tx *gorm.DB, kind models.Kind, ownerID uint, names []string, recipe *models.Recipe) error {
	seen := make(map[uint]struct{}, len(names))
	resolved := make([]T, 0, len(names))

	for _, name := range names {
		entity, created, err := getOrCreate[T, P](tx, ownerID, name)
		if err != nil {
			return apperror.Persistence(fmt.Sprintf("resolve %s %q", kind, name), err)
		}
		r.observe(kind, created)

		id := P(entity).GetID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		resolved = append(resolved, *entity)
	}

	if err := tx.Model(recipe).Association(kind.Association()).Append(resolved); err != nil {
		return apperror.Persistence("attach "+kind.Plural(), err)
	}
	return nil
}

// getOrCreate inserts (ownerID, name) and falls back to reading the existing
// row when the unique index already holds it. A concurrent creator of the same
// name therefore never surfaces as an error.
func getOrCreate[T any, P models.AttributePtr[T]](tx *gorm.DB, ownerID uint, name string) (*T, bool, error) {
	entity := new(T)
	P(entity).Assign(ownerID, name)

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
	if result.Error == nil && result.RowsAffected > 0 {
		return entity, true, nil
	}
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return nil, false, result.Error
	}

	existing := new(T)
	if err := tx.Where("user_id = ? AND name = ?", ownerID, name).First(existing).Error; err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Resolver) observe(kind models.Kind, created bool) {
	if r.Observe == nil {
		return
	}
	outcome := metrics.OutcomeReused
	if created {
		outcome = metrics.OutcomeCreated
	}
	r.Observe(string(kind), outcome)
}
