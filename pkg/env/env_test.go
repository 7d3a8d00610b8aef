package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStringFromFile_PrefersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("CONSULT_TEST_SECRET", "from-env")
	t.Setenv("CONSULT_TEST_SECRET_FILE", path)

	assert.Equal(t, "from-file", GetStringFromFile("CONSULT_TEST_SECRET", "default"))
}

func TestGetStringFromFile_FallsBackToEnv(t *testing.T) {
	t.Setenv("CONSULT_TEST_SECRET", "from-env")
	t.Setenv("CONSULT_TEST_SECRET_FILE", "/does/not/exist")

	assert.Equal(t, "from-env", GetStringFromFile("CONSULT_TEST_SECRET", "default"))
}

func TestGetString_Default(t *testing.T) {
	t.Setenv("CONSULT_TEST_UNSET", "")
	assert.Equal(t, "default", GetString("CONSULT_TEST_UNSET", "default"))
}
