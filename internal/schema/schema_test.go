package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func studentFields(t *testing.T) []FieldDescriptor {
	t.Helper()

	name, err := NewAttribute("name", TypeString, AttributeSpec{Required: true, Searchable: true, MaxSize: 120})
	require.NoError(t, err)

	gpa, err := NewAttribute("gpa", TypeFloat, AttributeSpec{})
	require.NoError(t, err)

	enrolled, err := NewAttribute("enrolled", TypeBool, AttributeSpec{Required: true})
	require.NoError(t, err)

	slug, err := NewAttribute("slug", TypeString, AttributeSpec{Computed: true})
	require.NoError(t, err)

	university, err := NewRelation("university", ManyToOne, "UniversityModel", true, true)
	require.NoError(t, err)

	return []FieldDescriptor{name, gpa, enrolled, slug, university}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	fields := studentFields(t)

	first, err := r.Register("StudentModel", fields)
	require.NoError(t, err)

	second, err := r.Register("StudentModel", fields)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegisterConflictingShapeFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	other, err := NewAttribute("age", TypeInt, AttributeSpec{})
	require.NoError(t, err)

	_, err = r.Register("StudentModel", []FieldDescriptor{other})
	require.Error(t, err)
	var conflict *SchemaConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRegisterDerivesPluralKebabName(t *testing.T) {
	r := NewRegistry()
	schema, err := r.Register("UniversityModel", studentFields(t))
	require.NoError(t, err)
	assert.Equal(t, "universities", schema.Plural)

	schema2, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)
	assert.Equal(t, "students", schema2.Plural)
}

func TestDescribeUnknownModel(t *testing.T) {
	r := NewRegistry()
	_, err := r.Describe("GhostModel")
	require.Error(t, err)
	var unknown *UnknownModelError
	assert.ErrorAs(t, err, &unknown)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	_, err = r.Validate("StudentModel", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"university": "univ-1",
		"nickname":   "Al",
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "nickname", verr.Field)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	_, err = r.Validate("StudentModel", map[string]any{
		"enrolled":   true,
		"university": "univ-1",
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestValidateRejectsComputedFieldSuppliedByCaller(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	_, err = r.Validate("StudentModel", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"university": "univ-1",
		"slug":       "ada",
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "slug", verr.Field)
}

func TestValidateCoercesIntToFloat(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	normalized, err := r.Validate("StudentModel", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"gpa":        4,
		"university": "univ-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, normalized["gpa"])
}

func TestValidateEnforcesMaxSize(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	longName := make([]byte, 200)
	for i := range longName {
		longName[i] = 'a'
	}

	_, err = r.Validate("StudentModel", map[string]any{
		"name":       string(longName),
		"enrolled":   true,
		"university": "univ-1",
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestSerializeOmitsRelationsByDefault(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	out, err := r.Serialize("StudentModel", "stu-1", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"university": "univ-1",
	}, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", out["id"])
	assert.Equal(t, "StudentModel", out["model_name"])
	assert.Equal(t, "Ada", out["name"])
	_, hasRelation := out["university"]
	assert.False(t, hasRelation)
}

func TestSerializeExpandsRelationOneLevel(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	resolver := func(targetModel, id string) (map[string]any, bool) {
		if targetModel == "UniversityModel" && id == "univ-1" {
			return map[string]any{"id": "univ-1", "model_name": "UniversityModel", "name": "Metropolitan"}, true
		}
		return nil, false
	}

	out, err := r.Serialize("StudentModel", "stu-1", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"university": "univ-1",
	}, true, true, resolver)
	require.NoError(t, err)

	expanded, ok := out["university"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Metropolitan", expanded["name"])
}

func TestSerializeIncludesBareIDWithoutExpansion(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("StudentModel", studentFields(t))
	require.NoError(t, err)

	out, err := r.Serialize("StudentModel", "stu-1", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"university": "univ-1",
	}, true, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "univ-1", out["university"])
}

func TestNewAttributeComputedForcesRequiredAndNonEditable(t *testing.T) {
	f, err := NewAttribute("slug", TypeString, AttributeSpec{Computed: true, Editable: true, Required: false})
	require.NoError(t, err)
	assert.True(t, f.Required)
	assert.False(t, f.Editable)
}

func TestNewAttributeDefaultStringMaxSize(t *testing.T) {
	f, err := NewAttribute("bio", TypeString, AttributeSpec{})
	require.NoError(t, err)
	assert.Equal(t, maxStringSize, f.MaxSize)
}

func TestRelationNameFormat(t *testing.T) {
	f, err := NewRelation("university", ManyToOne, "UniversityModel", true, true)
	require.NoError(t, err)
	assert.Equal(t, "StudentModel_many-to-one_UniversityModel", RelationName("StudentModel", f))
}
