// Package mail_tools exposes the dispatch service as MCP tools:
// mail_send, mail_reply, mail_mark_read and mail_list.
//
// Every call acts as the single user the stdio server was started for.
// Write tools are registered only when read-only mode is off.
package mail_tools
