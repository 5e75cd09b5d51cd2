// Package driving provides interfaces for primary/inbound ports: the
// operations the CLI, MCP server, and TUI invoke on the core.
package driving
