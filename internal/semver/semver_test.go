package semver_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/semver"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0", "1.2.3", "10.20.30", "1.0.0"} {
		v, err := semver.Parse(s)
		require.NoError(t, err)
		require.Equal(t, s, v.String())
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"1.2", "1.2.3.4", "a.b.c", "", "1..3", "-1.0.0"} {
		_, err := semver.Parse(s)
		require.Error(t, err)
		require.True(t, errors.Is(err, semver.ErrInvalidVersion))
	}
}

func TestCompareTotalOrder(t *testing.T) {
	a := semver.MustParse("1.2.3")
	b := semver.MustParse("1.2.4")
	c := semver.MustParse("1.3.0")
	d := semver.MustParse("2.0.0")

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.True(t, c.Less(d))
	require.True(t, a.Equal(semver.MustParse("1.2.3")))
	require.Equal(t, 0, a.Compare(a))
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
}

func TestCaretConstraint(t *testing.T) {
	c := semver.MustParseConstraint("^1.2.3")
	require.True(t, c.Satisfies(semver.MustParse("1.2.3")))
	require.True(t, c.Satisfies(semver.MustParse("1.2.4")))
	require.True(t, c.Satisfies(semver.MustParse("1.9.0")))
	require.False(t, c.Satisfies(semver.MustParse("1.2.2")))
	require.False(t, c.Satisfies(semver.MustParse("2.0.0")))
}

func TestTildeConstraint(t *testing.T) {
	c := semver.MustParseConstraint("~1.2.3")
	require.True(t, c.Satisfies(semver.MustParse("1.2.3")))
	require.True(t, c.Satisfies(semver.MustParse("1.2.9")))
	require.False(t, c.Satisfies(semver.MustParse("1.3.0")))
	require.False(t, c.Satisfies(semver.MustParse("1.2.2")))
}

func TestComparisonConstraints(t *testing.T) {
	ge := semver.MustParseConstraint(">=1.0.0")
	require.True(t, ge.Satisfies(semver.MustParse("1.0.0")))
	require.True(t, ge.Satisfies(semver.MustParse("5.0.0")))
	require.False(t, ge.Satisfies(semver.MustParse("0.9.9")))

	le := semver.MustParseConstraint("<=1.0.0")
	require.True(t, le.Satisfies(semver.MustParse("1.0.0")))
	require.True(t, le.Satisfies(semver.MustParse("0.1.0")))
	require.False(t, le.Satisfies(semver.MustParse("1.0.1")))

	eq := semver.MustParseConstraint("=1.0.0")
	require.True(t, eq.Satisfies(semver.MustParse("1.0.0")))
	require.False(t, eq.Satisfies(semver.MustParse("1.0.1")))
}

func TestAnyConstraint(t *testing.T) {
	c := semver.MustParseConstraint("*")
	require.True(t, c.Satisfies(semver.MustParse("0.0.0")))
	require.True(t, c.Satisfies(semver.MustParse("99.99.99")))
}

func TestParseConstraintInvalid(t *testing.T) {
	_, err := semver.ParseConstraint("^a.b.c")
	require.Error(t, err)
}
