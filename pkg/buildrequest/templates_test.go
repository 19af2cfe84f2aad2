package buildrequest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateName(t *testing.T) {
	tests := []struct {
		stack   Stack
		version string
		want    string
	}{
		{StackDotnetcore, "1.1", "debian-8"},
		{StackDotnetcore, "2.2", "debian-9"},
		{StackNode, "10.14", "debian-9"},
		{StackPHP, "5.6", "template-5.6-apache"},
		{StackPHP, "7.0", "template-7.0-apache"},
		{StackPHP, "7.2", "template-7.2-apache"},
		{StackPHP, "7.3", "template-7.3-apache"},
		{StackPython, "2.7", "template-2.7"},
		{StackPython, "3.6", "template-3.6"},
		{StackPython, "3.7", "template-3.7"},
		{StackRuby, "2.6.2", "templates"},
		{StackKudu, "0", "kudu"},
	}
	for _, tt := range tests {
		got, err := TemplateName(tt.stack, tt.version)
		require.NoError(t, err, "%s %s", tt.stack, tt.version)
		assert.Equal(t, tt.want, got, "%s %s", tt.stack, tt.version)
	}
}

func TestTemplateTableVersionsResolve(t *testing.T) {
	for stack, versions := range map[Stack][]string{StackPHP: phpVersions, StackPython: pythonVersions} {
		for _, v := range versions {
			r := &BuildRequest{Stack: string(stack), Version: v}
			assert.NoError(t, NewResolver().Resolve(r), "%s %s", stack, v)
		}
	}
}

func TestUnknownVersionsRejected(t *testing.T) {
	tests := []struct {
		stack   Stack
		version string
	}{
		{StackPHP, "7.4"},
		{StackPHP, "5"},
		{StackPHP, "7.3.1"},
		{StackPython, "3.8"},
		{StackPython, "2"},
	}
	for _, tt := range tests {
		err := NewResolver().Resolve(&BuildRequest{Stack: string(tt.stack), Version: tt.version})
		var unsupported *UnsupportedVersionError
		require.True(t, errors.As(err, &unsupported), "%s %s: %v", tt.stack, tt.version, err)
		assert.Equal(t, tt.version, unsupported.Version)
		assert.True(t, errors.Is(err, ErrInvalidRequest))
	}
}

func TestDefaultTries(t *testing.T) {
	assert.Equal(t, 1, DefaultTries(StackPHP))
	assert.Equal(t, 1, DefaultTries(StackKudu))
	assert.Equal(t, 3, DefaultTries(StackNode))
	assert.Equal(t, 3, DefaultTries(StackRuby))
}

func TestStackTitle(t *testing.T) {
	assert.Equal(t, "Php", StackPHP.Title())
	assert.Equal(t, "Dotnetcore", StackDotnetcore.Title())
}
