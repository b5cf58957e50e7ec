package appdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widgetConfig struct {
	Name string
}

// TestSetGetRoundTrip verifies a value set under its concrete type is
// retrievable under that same type.
func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()

	d := New()
	Set(d, widgetConfig{Name: "widget"})

	got, ok := Get[widgetConfig](d)
	require.True(t, ok)
	require.Equal(t, "widget", got.Name)
}

// TestGetMissingTypeReturnsFalse verifies Get reports false for a type that
// was never set.
func TestGetMissingTypeReturnsFalse(t *testing.T) {
	t.Parallel()

	d := New()
	_, ok := Get[widgetConfig](d)
	require.False(t, ok)
}

// TestGetOrDefaultInitializesOnce verifies GetOrDefault creates and stores
// the zero value on first access, then returns the same stored value (not
// a fresh zero value) on subsequent calls.
func TestGetOrDefaultInitializesOnce(t *testing.T) {
	t.Parallel()

	d := New()

	got := GetOrDefault[int](d)
	require.Equal(t, 0, got)

	Set(d, 42)
	got = GetOrDefault[int](d)
	require.Equal(t, 42, got)
}

// TestMustGetPanicsWhenUnset verifies MustGet panics rather than silently
// returning a zero value for a type that was never configured.
func TestMustGetPanicsWhenUnset(t *testing.T) {
	t.Parallel()

	d := New()
	require.Panics(t, func() {
		MustGet[widgetConfig](d)
	})
}

// TestSetOverwritesPreviousValue verifies a second Set for the same type
// replaces the first.
func TestSetOverwritesPreviousValue(t *testing.T) {
	t.Parallel()

	d := New()
	Set(d, widgetConfig{Name: "first"})
	Set(d, widgetConfig{Name: "second"})

	got, ok := Get[widgetConfig](d)
	require.True(t, ok)
	require.Equal(t, "second", got.Name)
}
