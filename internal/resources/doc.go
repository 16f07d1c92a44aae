// Package resources exposes read-only MCP resources for the acting user:
// their profile with mail connection state, and stored conversations.
package resources
