package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_GooseAnnotated(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, f := range files {
		b, err := fs.ReadFile(FS, f)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(b), "-- +goose Up"), f)
		require.Contains(t, string(b), "-- +goose Down", f)
	}
}
