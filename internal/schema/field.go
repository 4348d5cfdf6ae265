package schema

import "fmt"

// AttributeType is the scalar type carried by an Attribute field.
type AttributeType string

const (
	TypeBool      AttributeType = "bool"
	TypeInt       AttributeType = "int"
	TypeFloat     AttributeType = "float"
	TypeString    AttributeType = "string"
	TypeTimestamp AttributeType = "timestamp"
)

func (t AttributeType) valid() bool {
	switch t {
	case TypeBool, TypeInt, TypeFloat, TypeString, TypeTimestamp:
		return true
	}
	return false
}

// RelationKind is the multiplicity of a Relation field.
type RelationKind string

const (
	OneToOne   RelationKind = "one-to-one"
	ManyToOne  RelationKind = "many-to-one"
	OneToMany  RelationKind = "one-to-many"
	ManyToMany RelationKind = "many-to-many"
)

func (k RelationKind) valid() bool {
	switch k {
	case OneToOne, ManyToOne, OneToMany, ManyToMany:
		return true
	}
	return false
}

// ToMany reports whether the relation stores a set of target ids rather
// than a single one.
func (k RelationKind) ToMany() bool {
	return k == OneToMany || k == ManyToMany
}

// FieldDescriptor is a typed, self-describing field on a model: either a
// scalar Attribute or a Relation to another model. Unlike the source's
// _ValueWrapper design (spec §9), a FieldDescriptor carries no value and no
// back-pointer to any instance — it is a plain, immutable record looked up
// by name from the model's field table (schema.Registry.Describe).
type FieldDescriptor struct {
	Name string
	Kind Kind

	// Attribute-only.
	Type        AttributeType
	Computed    bool
	Searchable  bool
	Unique      bool
	MaxSize     int
	Description string
	Shortkey    string

	// Relation-only.
	RelationKind RelationKind
	TargetModel  string

	// Shared.
	Required bool
	Editable bool
	Indexed  bool
}

// Kind distinguishes an Attribute field from a Relation field.
type Kind string

const (
	KindAttribute Kind = "attribute"
	KindRelation  Kind = "relation"
)

// AttributeSpec configures an Attribute field's optional properties.
type AttributeSpec struct {
	Required    bool
	Indexed     bool
	Searchable  bool
	Unique      bool
	Editable    bool // ignored (forced false) when Computed is set
	Computed    bool
	MaxSize     int // only meaningful when typ == TypeString; 0 means unbounded
	Description string
	Shortkey    string
}

// NewAttribute builds a validated Attribute field descriptor.
//
// computed ⇒ required ∧ ¬editable is enforced here exactly as the source's
// HSDBAttribute constructor does: a computed field is forced required and
// non-editable rather than rejected.
func NewAttribute(name string, typ AttributeType, spec AttributeSpec) (FieldDescriptor, error) {
	if name == "" {
		return FieldDescriptor{}, fmt.Errorf("schema: attribute name must not be empty")
	}
	if !typ.valid() {
		return FieldDescriptor{}, fmt.Errorf("schema: unsupported attribute type %q", typ)
	}
	if spec.MaxSize < 0 {
		return FieldDescriptor{}, fmt.Errorf("schema: max_size must be a positive integer")
	}

	editable := spec.Editable
	required := spec.Required
	if spec.Computed {
		editable = false
		required = true
	}

	maxSize := spec.MaxSize
	if typ == TypeString && maxSize == 0 {
		maxSize = maxStringSize
	}

	return FieldDescriptor{
		Name:        name,
		Kind:        KindAttribute,
		Type:        typ,
		Computed:    spec.Computed,
		Searchable:  spec.Searchable,
		Unique:      spec.Unique,
		MaxSize:     maxSize,
		Description: spec.Description,
		Shortkey:    spec.Shortkey,
		Required:    required,
		Editable:    editable,
		Indexed:     spec.Indexed,
	}, nil
}

// maxStringSize mirrors the source's sys.maxsize default for an attribute
// with no explicit max_size.
const maxStringSize = 1 << 31

// NewRelation builds a validated Relation field descriptor.
func NewRelation(name string, kind RelationKind, targetModel string, required, editable bool) (FieldDescriptor, error) {
	if name == "" {
		return FieldDescriptor{}, fmt.Errorf("schema: relation name must not be empty")
	}
	if !kind.valid() {
		return FieldDescriptor{}, fmt.Errorf("schema: unsupported relation kind %q", kind)
	}
	if targetModel == "" {
		return FieldDescriptor{}, fmt.Errorf("schema: relation %q needs a target model", name)
	}
	return FieldDescriptor{
		Name:         name,
		Kind:         KindRelation,
		RelationKind: kind,
		TargetModel:  targetModel,
		Required:     required,
		Editable:     editable,
	}, nil
}

// RelationName is the canonical relation identifier used by the relational
// index: <owning_model>_<kind>_<target_model>.
func RelationName(owningModel string, f FieldDescriptor) string {
	return fmt.Sprintf("%s_%s_%s", owningModel, f.RelationKind, f.TargetModel)
}
