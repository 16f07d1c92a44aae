package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/tools/mail_tools"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for the MCP tools from their registered
definitions, so the reference never drifts from the implementation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputFile == "" {
				return writeToolDocs(cmd.OutOrStdout())
			}
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			if err := writeToolDocs(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Documentation written to: %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func writeToolDocs(w io.Writer) error {
	mcpSrv := newMCPServer()
	// Only the definitions are read, handlers are never called.
	if err := mail_tools.RegisterMailTools(mcpSrv, mail_tools.Deps{Mailer: (*dispatch.Service)(nil)}); err != nil {
		return fmt.Errorf("failed to register mail tools: %w", err)
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, st := range serverTools {
		tools = append(tools, st.Tool)
	}

	_, err := io.WriteString(w, generateToolsMarkdown(tools))
	return err
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	var sb strings.Builder
	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("Tools available when running `outreach mcp`. Every call acts as the user passed with `--user`.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	for _, tool := range tools {
		sb.WriteString(generateToolMarkdown(tool))
		sb.WriteString("\n")
	}
	return sb.String()
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}

	if len(tool.InputSchema.Properties) == 0 {
		return sb.String()
	}

	sb.WriteString("**Arguments:**\n")
	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		required := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			required = "required"
		}
		propType := getPropertyType(prop)

		fmt.Fprintf(&sb, "- `%s` (%s, %s): ", name, propType, required)
		if desc, ok := prop["description"].(string); ok {
			sb.WriteString(desc)
		} else {
			fmt.Fprintf(&sb, "%s parameter", propType)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
