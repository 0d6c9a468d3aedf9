// Command mcp exposes the txdriver HTTP API as MCP tools over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/txdriver/internal/mcp"
)

func main() {
	apiURL := os.Getenv("TXDRIVER_URL")
	if apiURL == "" {
		apiURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"txdriver",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	mcptools.RegisterTools(s, mcptools.NewClient(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
