// Package command provides the text command system shared by the dashboard
// input line and the /command endpoint.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/registry"
)

// Executor executes commands
type Executor struct {
	service   *printer.Service
	discovery *printer.Discovery
	registry  *registry.Registry
}

// NewExecutor creates a new command executor
func NewExecutor(service *printer.Service, discovery *printer.Discovery, reg *registry.Registry) *Executor {
	return &Executor{
		service:   service,
		discovery: discovery,
		registry:  reg,
	}
}

// Result represents the result of executing a command
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failure(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failure("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "print":
		return e.handlePrint(args)
	case "selftest":
		return e.handleSelfTest()
	case "scan":
		return e.handleScan(ctx)
	case "connect":
		return e.handleConnect(ctx, args)
	case "disconnect":
		return e.handleDisconnect()
	case "status":
		return e.handleStatus()
	case "printer":
		return e.handlePrinter(args)
	case "job":
		return e.handleJob(args)
	case "help":
		return e.handleHelp()
	default:
		return failure("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand parses a command string into parts, handling quoted strings
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case char == '"' || char == '\'':
			if !inQuotes {
				inQuotes = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(char)
			}
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
