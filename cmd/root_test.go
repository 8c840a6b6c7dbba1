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

	expected := []string{"run", "schedule", "send-test", "secrets", "migrate", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "outreach-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("dry-run")
	require.NotNil(t, flag, "run command should have --dry-run flag")
	assert.Equal(t, "false", flag.DefValue)

	limit := runCmd.Flags().Lookup("limit")
	require.NotNil(t, limit, "run command should have --limit flag")
	assert.Equal(t, "0", limit.DefValue)
}

func TestScheduleCommand_Flags(t *testing.T) {
	flag := scheduleCmd.Flags().Lookup("cron")
	require.NotNil(t, flag, "schedule command should have --cron flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestSendTestCommand_Flags(t *testing.T) {
	for _, name := range []string{"to", "name", "company"} {
		assert.NotNil(t, sendTestCmd.Flags().Lookup(name), "send-test should have --%s", name)
	}
	to := sendTestCmd.Flags().Lookup("to")
	require.NotNil(t, to)
	assert.Equal(t, []string{"true"}, to.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestSecretsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range secretsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["set"])
	assert.True(t, names["delete"])
}
