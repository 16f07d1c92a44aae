// Package common holds helpers shared by the MCP tool packages: resolving
// the acting user, instrumenting handlers and rendering dispatch errors as
// tool results.
package common
