package usecase_test

import (
	"os"
	"path/filepath"
	"testing"

	"ziwei-chat/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfiles_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	content := `[
		{"id": "master", "name": "玄明先生", "system": "你是命理师。"},
		{"id": "gentle", "name": "温言师姐", "system": "你语气更温柔。", "model": "qwen-plus", "temperature": 0.4}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	profiles, err := usecase.LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "qwen-plus", profiles[1].Model)
	require.NotNil(t, profiles[1].Temperature)
	assert.Equal(t, 0.4, *profiles[1].Temperature)
}

func TestLoadProfiles_EmptyPathYieldsBuiltins(t *testing.T) {
	profiles, err := usecase.LoadProfiles("")
	require.NoError(t, err)
	require.NotEmpty(t, profiles)
	assert.Equal(t, "master", profiles[0].ID)
	assert.NotEmpty(t, profiles[0].System)
}

func TestLoadProfiles_MissingFile(t *testing.T) {
	_, err := usecase.LoadProfiles("/does/not/exist.json")
	assert.Error(t, err)
}

func TestProfileRegistry_FallsBackToDefault(t *testing.T) {
	registry, err := usecase.NewProfileRegistry([]usecase.PersonaProfile{
		{ID: "master", System: "默认"},
		{ID: "gentle", System: "温柔"},
	}, "master")
	require.NoError(t, err)

	assert.Equal(t, "gentle", registry.Get("gentle").ID)
	assert.Equal(t, "master", registry.Get("unknown").ID)
	assert.Equal(t, "master", registry.Get("").ID)
}

func TestProfileRegistry_RejectsInvalidProfiles(t *testing.T) {
	_, err := usecase.NewProfileRegistry(nil, "master")
	assert.Error(t, err)

	_, err = usecase.NewProfileRegistry([]usecase.PersonaProfile{{ID: "", System: "x"}}, "")
	assert.Error(t, err)

	_, err = usecase.NewProfileRegistry([]usecase.PersonaProfile{{ID: "a", System: "x"}}, "missing")
	assert.Error(t, err)
}
