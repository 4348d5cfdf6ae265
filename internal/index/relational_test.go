package index

import (
	"testing"

	"github.com/enamentis/modulo/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationalManyToOne(t *testing.T) {
	r := NewRelational()
	r.Link("StudentModel_many-to-one_UniversityModel", schema.ManyToOne, "stu-1", "univ-1")
	r.Link("StudentModel_many-to-one_UniversityModel", schema.ManyToOne, "stu-2", "univ-1")

	tgt, ok := r.ForwardOne("StudentModel_many-to-one_UniversityModel", "stu-1")
	require.True(t, ok)
	assert.Equal(t, "univ-1", tgt)

	srcs := r.InverseMany("StudentModel_many-to-one_UniversityModel", "univ-1")
	assert.ElementsMatch(t, []string{"stu-1", "stu-2"}, srcs)

	r.RemoveEntity("StudentModel_many-to-one_UniversityModel", schema.ManyToOne, "stu-1")
	srcs = r.InverseMany("StudentModel_many-to-one_UniversityModel", "univ-1")
	assert.Equal(t, []string{"stu-2"}, srcs)
	_, ok = r.ForwardOne("StudentModel_many-to-one_UniversityModel", "stu-1")
	assert.False(t, ok)
}

func TestRelationalOneToOne(t *testing.T) {
	r := NewRelational()
	name := "UserModel_one-to-one_ProfileModel"
	r.Link(name, schema.OneToOne, "user-1", "profile-1")

	tgt, ok := r.ForwardOne(name, "user-1")
	require.True(t, ok)
	assert.Equal(t, "profile-1", tgt)

	src, ok := r.InverseOne(name, "profile-1")
	require.True(t, ok)
	assert.Equal(t, "user-1", src)

	r.Unlink(name, schema.OneToOne, "user-1", "profile-1")
	_, ok = r.ForwardOne(name, "user-1")
	assert.False(t, ok)
	_, ok = r.InverseOne(name, "profile-1")
	assert.False(t, ok)
}

func TestRelationalManyToManySymmetric(t *testing.T) {
	r := NewRelational()
	name := "StudentModel_many-to-many_CourseModel"
	r.Link(name, schema.ManyToMany, "stu-1", "course-1")
	r.Link(name, schema.ManyToMany, "stu-1", "course-2")
	r.Link(name, schema.ManyToMany, "stu-2", "course-1")

	assert.ElementsMatch(t, []string{"course-1", "course-2"}, r.ForwardMany(name, "stu-1"))
	assert.ElementsMatch(t, []string{"stu-1", "stu-2"}, r.ForwardMany(name, "course-1"))

	r.RemoveEntity(name, schema.ManyToMany, "stu-1")
	assert.Empty(t, r.ForwardMany(name, "stu-1"))
	assert.Equal(t, []string{"stu-2"}, r.ForwardMany(name, "course-1"))
	assert.Empty(t, r.ForwardMany(name, "course-2"))
}

func TestRelationalOneToMany(t *testing.T) {
	r := NewRelational()
	name := "UniversityModel_one-to-many_CampusModel"
	r.Link(name, schema.OneToMany, "univ-1", "campus-1")
	r.Link(name, schema.OneToMany, "univ-1", "campus-2")

	assert.ElementsMatch(t, []string{"campus-1", "campus-2"}, r.ForwardMany(name, "univ-1"))
	src, ok := r.InverseOne(name, "campus-1")
	require.True(t, ok)
	assert.Equal(t, "univ-1", src)

	r.RemoveEntity(name, schema.OneToMany, "campus-1")
	assert.Equal(t, []string{"campus-2"}, r.ForwardMany(name, "univ-1"))
}
