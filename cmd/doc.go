// Package cmd implements the command-line interface for outreach.
//
// This package provides the following commands:
//   - serve: Run the HTTP API and the metrics listener
//   - mcp: Serve the mail tools to an MCP client over stdio
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for the MCP tools
package cmd
