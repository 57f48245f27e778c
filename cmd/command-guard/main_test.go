package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	cases := []struct {
		name   string
		args   []string
		stdin  string
		code   int
		stderr string
	}{
		{"allow", nil, `{"tool_input":{"command":"ls"}}`, exitAllow, ""},
		{"block", nil, `{"tool_input":{"command":"echo hi && supabase db reset"}}`, exitBlock, "db-reset"},
		{"missing command fails open", nil, `{"tool_input":{}}`, exitAllow, ""},
		{"garbage fails open", nil, `not json`, exitAllow, ""},
		{"garbage fail closed", []string{"--fail-closed"}, `not json`, exitBlock, "unreadable-input"},
		{"empty command fail closed", []string{"--fail-closed"}, `{"tool_input":{"command":""}}`, exitAllow, ""},
		{"bad flag", []string{"--nope"}, ``, exitError, "unknown flag"},
		{"missing rules file", []string{"--rules", "/nonexistent.yaml"}, `{}`, exitError, "command-guard:"},
		{"missing rules file fail closed", []string{"--rules", "/nonexistent.yaml", "--fail-closed"}, `{}`, exitBlock, "command-guard:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stderr bytes.Buffer
			code := run(tc.args, strings.NewReader(tc.stdin), &stderr)
			assert.Equal(t, tc.code, code)
			if tc.stderr == "" {
				assert.Empty(t, stderr.String())
			} else {
				assert.Contains(t, stderr.String(), tc.stderr)
			}
		})
	}
}

func TestRunCustomRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: no-dropdb
    command: [dropdb]
    reason: drops a database
    suggestion: ask a human
`), 0o600))

	var stderr bytes.Buffer
	code := run([]string{"--rules", path}, strings.NewReader(`{"tool_input":{"command":"dropdb prod"}}`), &stderr)
	assert.Equal(t, exitBlock, code)
	assert.Contains(t, stderr.String(), "ask a human")
}
