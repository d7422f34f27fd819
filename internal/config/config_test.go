// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_RejectsNonPositiveFragmentSize(t *testing.T) {
	cfg := Default()
	cfg.Adaptive = false
	cfg.FragmentSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_AdaptiveIgnoresFragmentSize(t *testing.T) {
	cfg := Default()
	cfg.Adaptive = true
	cfg.FragmentSize = 0
	assert.NoError(t, cfg.Validate())
}

func TestParse_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Parse("segsplit", []string{"--fragment-size=4", "--delay-ms=2.5", "--adaptive", "--verbose"})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.FragmentSize)
	assert.Equal(t, 2.5, cfg.DelayMS)
	assert.True(t, cfg.Adaptive)
	assert.True(t, cfg.Verbose)
}

func TestParse_ConfigFileProvidesDefaultsFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segsplit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fragment_size: 16\ndelay_ms: 3.0\n"), 0o644))

	cfg, err := Parse("segsplit", []string{"--config=" + path, "--delay-ms=9.0"})
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.FragmentSize)
	assert.Equal(t, 9.0, cfg.DelayMS)
}

func TestLoadFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
