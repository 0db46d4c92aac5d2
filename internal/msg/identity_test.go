package msg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve_LabelPrecedence(t *testing.T) {
	require.Equal(t, "ally", Resolve("alice@example.org", "Alice", "ally").Label)
	require.Equal(t, "Alice", Resolve("alice@example.org", "Alice", "").Label)
	require.Equal(t, "alice@example.org", Resolve(" alice@example.org ", "", "").Label)
}

func TestResolve_ColorDeterministic(t *testing.T) {
	a := Resolve("alice@example.org", "Alice", "")
	b := Resolve("alice@example.org", "A. Liddell", "al")
	require.Equal(t, a.Color, b.Color, "color depends only on the raw identifier")
}

func TestDeriveLocalKey(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	require.Equal(t, "m1", DeriveLocalKey("m1", "abc", ts))
	require.Equal(t, "local:abc", DeriveLocalKey("", "abc", ts))
	require.Equal(t, "ts:1700000000000000042", DeriveLocalKey("", "", ts))
}
