package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdinal(t *testing.T) {
	assert.Equal(t, 1, Ordinal(Viewer))
	assert.Equal(t, 2, Ordinal(Member))
	assert.Equal(t, 3, Ordinal(Admin))
	assert.Equal(t, 4, Ordinal(Owner))
	assert.Equal(t, 0, Ordinal(None))
	assert.Equal(t, 0, Ordinal(Role("superuser")))
}

func TestHasRoleMatchesOrdinals(t *testing.T) {
	for _, actual := range All {
		for _, minimum := range All {
			want := Ordinal(actual) >= Ordinal(minimum)
			assert.Equal(t, want, HasRole(actual, minimum), "%s >= %s", actual, minimum)
		}
	}
}

func TestHasRoleAbsentAlwaysFails(t *testing.T) {
	for _, minimum := range append([]Role{None, Role("bogus")}, All...) {
		assert.False(t, HasRole(None, minimum), "minimum %q", minimum)
		assert.False(t, HasRole(Role("bogus"), minimum), "minimum %q", minimum)
	}
}

func TestParse(t *testing.T) {
	r, err := Parse(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, Admin, r)

	_, err = Parse("root")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}
