package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToolDocs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeToolDocs(&buf))
	out := buf.String()

	for _, name := range []string{"mail_list", "mail_mark_read", "mail_reply", "mail_send"} {
		assert.Contains(t, out, "## "+name)
	}
	assert.Less(t, strings.Index(out, "## mail_list"), strings.Index(out, "## mail_send"))
	assert.Contains(t, out, "- `to` (string, required): Recipient email address")
	assert.Contains(t, out, "- `toName` (string, optional)")
}

func TestGenerateToolMarkdown_NoArguments(t *testing.T) {
	out := generateToolMarkdown(mcp.NewTool("mail_ping", mcp.WithDescription("Ping")))
	assert.Equal(t, "## mail_ping\n\nPing\n\n", out)
}

func TestGetPropertyType(t *testing.T) {
	assert.Equal(t, "string", getPropertyType(map[string]any{"type": "string"}))
	assert.Equal(t, "any", getPropertyType(map[string]any{}))
}

func TestRootCommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "mcp", "version", "generate-docs"})

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("debug"))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	var buf bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "outreach version 1.2.3\n", buf.String())
}
