package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	id := GenerateID("peer")
	require.True(t, strings.HasPrefix(id, "peer-"))
	require.NotEqual(t, id, GenerateID("peer"))
	require.Len(t, GenerateID(""), 36)
}
