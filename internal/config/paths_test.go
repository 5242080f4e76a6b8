package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{"section", "memory", []string{"memory"}, ""},
		{"leaf", "memory.k", []string{"memory", "k"}, ""},
		{"provider key", "models.providers.local-llm.apiKey", []string{"models", "providers", "local-llm", "apiKey"}, ""},
		{"empty", "", nil, "empty config path"},
		{"empty segment", "memory..k", nil, "empty segment"},
		{"leading dot", ".memory", nil, "empty segment"},
		{"trailing dot", "memory.", nil, "empty segment"},
		{"bad rune", "memory.k=3", nil, "invalid characters"},
		{"space", "models.roles.chat model", nil, "invalid characters"},
		{"unknown section", "channels.irc", nil, "unknown config section"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr != "" {
				var ce *ConfigError
				require.ErrorAs(t, err, &ce)
				assert.Contains(t, ce.Message, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSections(t *testing.T) {
	assert.Equal(t,
		[]string{"history", "agent", "memory", "models", "store", "server", "logging"},
		Sections())
}

func TestGetValueAtPath(t *testing.T) {
	root := map[string]any{
		"memory": map[string]any{
			"k":       3,
			"backend": "sqlite",
		},
		"models": map[string]any{
			"roles": map[string]any{
				"chat": map[string]any{"model": "claude-sonnet-4-5"},
			},
		},
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"leaf", []string{"memory", "k"}, 3, true},
		{"deep", []string{"models", "roles", "chat", "model"}, "claude-sonnet-4-5", true},
		{"section", []string{"memory"}, root["memory"], true},
		{"missing section", []string{"server"}, nil, false},
		{"missing leaf", []string{"memory", "workers"}, nil, false},
		{"through scalar", []string{"memory", "k", "x"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := GetValueAtPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, val)
			}
		})
	}
}

func TestSetValueAtPath(t *testing.T) {
	root := map[string]any{
		"memory": map[string]any{"k": 3},
		"server": "not-a-map",
	}

	SetValueAtPath(root, []string{"memory", "k"}, 5)
	SetValueAtPath(root, []string{"models", "roles", "summary", "model"}, "gpt-4o-mini")
	SetValueAtPath(root, []string{"server", "addr"}, ":9000")

	for _, tc := range []struct {
		path []string
		want any
	}{
		{[]string{"memory", "k"}, 5},
		{[]string{"models", "roles", "summary", "model"}, "gpt-4o-mini"},
		{[]string{"server", "addr"}, ":9000"},
	} {
		got, ok := GetValueAtPath(root, tc.path)
		require.True(t, ok, "%v", tc.path)
		assert.Equal(t, tc.want, got)
	}
}

func TestUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"memory": map[string]any{"k": 3, "backend": "memory"},
		"server": "scalar",
	}

	assert.True(t, UnsetValueAtPath(root, []string{"memory", "k"}))
	_, found := GetValueAtPath(root, []string{"memory", "k"})
	assert.False(t, found)
	backend, found := GetValueAtPath(root, []string{"memory", "backend"})
	assert.True(t, found)
	assert.Equal(t, "memory", backend)

	assert.False(t, UnsetValueAtPath(root, []string{"memory", "k"}))
	assert.False(t, UnsetValueAtPath(root, []string{"history", "maxTokens"}))
	assert.False(t, UnsetValueAtPath(root, []string{"server", "addr"}))
}

func TestResolvePathsDefault(t *testing.T) {
	t.Setenv("RECALL_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	paths, err := ResolvePaths()
	require.NoError(t, err)

	base := filepath.Join(home, ".recall")
	assert.Equal(t, Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		DB:     filepath.Join(base, "data", "recall.db"),
	}, paths)
}

func TestResolvePathsRecallHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RECALL_HOME", dir)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, dir, paths.Base)
	assert.Equal(t, filepath.Join(dir, "data", "recall.db"), paths.DB)
}

func TestEnsureDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	paths := Paths{Base: dir, Data: filepath.Join(dir, "data")}

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	info, err := os.Stat(paths.Data)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}
