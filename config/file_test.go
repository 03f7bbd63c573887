package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	Level   level         `yaml:"level"`
	Routes  []struct {
		From string   `yaml:"from"`
		To   []string `yaml:"to"`
	} `yaml:"routes"`
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: orders
timeout: 5s
level: low
routes:
  - from: direct:in
    to: [log:in, mock:out]
`), 0o600))

	var cfg fileConfig
	require.NoError(t, LoadFile(path, &cfg))
	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, level(1), cfg.Level)
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, []string{"log:in", "mock:out"}, cfg.Routes[0].To)

	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
}

func TestDecode(t *testing.T) {
	cfg := fileConfig{Name: "kept"}
	require.NoError(t, Decode(strings.NewReader(""), &cfg))
	assert.Equal(t, "kept", cfg.Name)

	err := Decode(strings.NewReader("nmae: typo\n"), &cfg)
	assert.ErrorContains(t, err, "nmae")

	assert.Error(t, Decode(strings.NewReader("level: medium\n"), &cfg))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GOROUTE_TEST_DOTENV_NAME=fromfile\nGOROUTE_TEST_DOTENV_SIZE=3\n"), 0o600))
	t.Setenv("GOROUTE_TEST_DOTENV_SIZE", "9")
	t.Cleanup(func() { _ = os.Unsetenv("GOROUTE_TEST_DOTENV_NAME") })

	require.NoError(t, LoadDotEnv(path))

	var cfg struct {
		Name string
		Size int
	}
	require.NoError(t, Load("test-dotenv", &cfg))
	assert.Equal(t, "fromfile", cfg.Name)
	assert.Equal(t, 9, cfg.Size)

	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadDotEnv_DefaultMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, LoadDotEnv())
}
