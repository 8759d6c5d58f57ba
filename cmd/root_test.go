package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "sync", "status", "retry", "meetings", "accounts", "migrate", "export"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "inbox-sync", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotNil(t, rootCmd.PersistentPreRunE, "config must load before any command")
	assert.NotNil(t, rootCmd.PersistentPostRun, "logs must flush after every command")
}

func TestServeCommand_PortFlag(t *testing.T) {
	f := serveCmd.Flags().Lookup("port")
	require.NotNil(t, f)
	assert.Equal(t, "0", f.DefValue, "zero so the config port wins by default")
}

func TestSyncCommand_Flags(t *testing.T) {
	for _, name := range []string{"account", "full", "from", "drain"} {
		assert.NotNil(t, syncCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestStatusCommand_Flags(t *testing.T) {
	for _, name := range []string{"limit", "status"} {
		assert.NotNil(t, statusCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestMeetingsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range meetingsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["recover"])
}

func TestAccountsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range accountsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["list"])
}

func TestExportCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range exportCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["crm"])
}
