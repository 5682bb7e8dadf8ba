package models

// Kind identifies which recipe attribute collection an entity belongs to
type Kind string

const (
	KindTag        Kind = "tag"
	KindIngredient Kind = "ingredient"
)

// Association is the Recipe field name GORM uses for this kind
func (k Kind) Association() string {
	switch k {
	case KindIngredient:
		return "Ingredients"
	default:
		return "Tags"
	}
}

// Plural is the lower-case collection name used in routes and payloads
func (k Kind) Plural() string {
	return string(k) + "s"
}

// JoinTable is the many2many table linking recipes to this kind
func (k Kind) JoinTable() string {
	return "recipe_" + k.Plural()
}

// JoinColumn is this kind's foreign key column in JoinTable
func (k Kind) JoinColumn() string {
	return string(k) + "_id"
}

// Title is the kind name used in user-facing messages
func (k Kind) Title() string {
	switch k {
	case KindIngredient:
		return "Ingredient"
	default:
		return "Tag"
	}
}

// Attribute is implemented by the per-user, name-keyed entities a recipe
// links to. (UserID, Name) is unique for every Attribute.
type Attribute interface {
	GetID() uint
	GetName() string
	Assign(userID uint, name string)
	Kind() Kind
}

// AttributePtr constrains generic code to *Tag or *Ingredient style pointers
type AttributePtr[T any] interface {
	*T
	Attribute
}
