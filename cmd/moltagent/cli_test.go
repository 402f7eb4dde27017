package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	root := buildRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())

	help := out.String()
	for _, name := range []string{"onboard", "register", "run", "console", "status", "version"} {
		assert.Contains(t, help, name)
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	root := buildRootCommand()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subcommand is required")
}

func TestVersionFlag(t *testing.T) {
	root := buildRootCommand()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"--version"})

	assert.NoError(t, root.Execute())
}
