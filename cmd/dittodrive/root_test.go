package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range NewRootCommand().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "init", "migrate", "gc", "upload", "cdn-proxy"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestInitThenMigrate(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err, "init refuses to overwrite without --force")

	out, err = execute(t, "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")
}

func TestGCDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
metadata:
  type: memory
backends:
  profile: memory
`), 0o600))

	out, err := execute(t, "gc", "--dry-run", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted=0")
}

func TestUploadRequiresUser(t *testing.T) {
	_, err := execute(t, "upload", "file.txt")
	assert.Error(t, err)
}

func TestUploadMemoryProfile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
metadata:
  type: memory
backends:
  profile: memory
`), 0o600))
	filePath := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o600))

	out, err := execute(t, "upload", filePath, "--user", "alice", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "hello.txt"`)
	assert.Contains(t, out, `"user_id": "alice"`)
}
