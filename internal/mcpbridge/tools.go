package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StdioServer wraps a Bridge in an mcp-go stdio transport. Tool results are
// encoded through the library's own text/error wrapping; for precise
// JSON-RPC protocol error codes, use the HTTP transport instead.
type StdioServer struct {
	bridge    *Bridge
	mcpServer *server.MCPServer
}

// NewStdioServer constructs the stdio MCP transport and registers the full
// tool catalog.
func NewStdioServer(bridge *Bridge) *StdioServer {
	mcpServer := server.NewMCPServer(
		"qrngd-gateway",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	s := &StdioServer{bridge: bridge, mcpServer: mcpServer}
	s.registerTools()
	return s
}

// Serve blocks, handling MCP requests over stdin/stdout.
func (s *StdioServer) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *StdioServer) registerTools() {
	bytesTool := mcp.NewTool("get_random_bytes",
		mcp.WithDescription("Fetch quantum-random bytes, hex encoded"),
		mcp.WithNumber("length",
			mcp.Required(),
			mcp.Description("Number of bytes to fetch, 1-1048576"),
		),
	)
	s.mcpServer.AddTool(bytesTool, s.handleGetRandomBytes)

	integersTool := mcp.NewTool("get_random_integers",
		mcp.WithDescription("Fetch uniformly distributed random integers in [min, max]"),
		mcp.WithNumber("count",
			mcp.Required(),
			mcp.Description("Number of integers to fetch, 1-10000"),
		),
		mcp.WithNumber("min",
			mcp.Required(),
			mcp.Description("Inclusive lower bound"),
		),
		mcp.WithNumber("max",
			mcp.Required(),
			mcp.Description("Inclusive upper bound"),
		),
	)
	s.mcpServer.AddTool(integersTool, s.handleGetRandomIntegers)

	floatsTool := mcp.NewTool("get_random_floats",
		mcp.WithDescription("Fetch uniformly distributed doubles in [0, 1)"),
		mcp.WithNumber("count",
			mcp.Required(),
			mcp.Description("Number of floats to fetch, 1-10000"),
		),
	)
	s.mcpServer.AddTool(floatsTool, s.handleGetRandomFloats)

	uuidTool := mcp.NewTool("get_random_uuid",
		mcp.WithDescription("Fetch version-4 UUIDs"),
		mcp.WithNumber("count",
			mcp.Description("Number of UUIDs to fetch, 1-1000, default 1"),
		),
	)
	s.mcpServer.AddTool(uuidTool, s.handleGetRandomUUID)

	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Report Distribution Buffer fill state and freshness"),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetStatus)
}

func toolArgInt(args map[string]interface{}, key string, defaultValue int) int {
	v, ok := args[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return defaultValue
	}
}

func toolArgInt64(args map[string]interface{}, key string, defaultValue int64) int64 {
	v, ok := args[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return defaultValue
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *StdioServer) handleGetRandomBytes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	n := toolArgInt(args, "length", 0)

	result, err := s.bridge.GetRandomBytes(n)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *StdioServer) handleGetRandomIntegers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	count := toolArgInt(args, "count", 0)
	min := toolArgInt64(args, "min", 0)
	max := toolArgInt64(args, "max", 0)

	out, err := s.bridge.GetRandomIntegers(count, min, max)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"integers": out})
}

func (s *StdioServer) handleGetRandomFloats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	count := toolArgInt(args, "count", 0)

	out, err := s.bridge.GetRandomFloats(count)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"floats": out})
}

func (s *StdioServer) handleGetRandomUUID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	count := toolArgInt(args, "count", 1)

	out, err := s.bridge.GetRandomUUID(count)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"uuids": out})
}

func (s *StdioServer) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.bridge.GetStatus())
}
