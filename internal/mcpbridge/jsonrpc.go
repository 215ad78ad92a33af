package mcpbridge

import (
	"encoding/json"
	"net/http"

	"github.com/entropybridge/qrngd/infrastructure/errors"
)

// JSON-RPC 2.0 reserved and application error codes, per the MCP bridge's
// stable error-code contract.
const (
	rpcCodeInvalidRequest      = -32602
	rpcCodeInsufficientEntropy = -32000
	rpcCodeServerError         = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// toolSchema describes one catalog entry for the tools/list response. Tool
// schemas are static: the catalog never changes across calls.
type toolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var toolCatalog = []toolSchema{
	{
		Name:        "get_random_bytes",
		Description: "Fetch quantum-random bytes, hex encoded",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"length": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 1048576},
			},
			"required": []string{"length"},
		},
	},
	{
		Name:        "get_random_integers",
		Description: "Fetch uniformly distributed random integers in [min, max]",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"count": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 10000},
				"min":   map[string]interface{}{"type": "integer"},
				"max":   map[string]interface{}{"type": "integer"},
			},
			"required": []string{"count", "min", "max"},
		},
	},
	{
		Name:        "get_random_floats",
		Description: "Fetch uniformly distributed doubles in [0, 1)",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"count": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 10000},
			},
			"required": []string{"count"},
		},
	},
	{
		Name:        "get_random_uuid",
		Description: "Fetch version-4 UUIDs",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"count": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 1000, "default": 1},
			},
		},
	},
	{
		Name:        "get_status",
		Description: "Report Distribution Buffer fill state and freshness",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
}

// HTTPHandler serves JSON-RPC 2.0 over HTTP, implementing tools/list and
// tools/call by hand so error responses carry the bridge's exact protocol
// error codes rather than mcp-go's own text-wrapped tool results.
func HTTPHandler(bridge *Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeRPCError(w, nil, rpcCodeInvalidRequest, "malformed JSON-RPC request", nil)
			return
		}

		switch req.Method {
		case "tools/list":
			writeRPCResult(w, req.ID, map[string]interface{}{"tools": toolCatalog})
		case "tools/call":
			handleToolCall(w, bridge, req)
		default:
			writeRPCError(w, req.ID, rpcCodeInvalidRequest, "unknown method: "+req.Method, nil)
		}
	}
}

func handleToolCall(w http.ResponseWriter, bridge *Bridge, req rpcRequest) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, rpcCodeInvalidRequest, "malformed tool call parameters", nil)
		return
	}

	result, err := dispatch(bridge, params.Name, params.Arguments)
	if err != nil {
		code, message := classifyError(err)
		writeRPCError(w, req.ID, code, message, nil)
		return
	}
	writeRPCResult(w, req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": mustJSON(result)},
		},
	})
}

func dispatch(bridge *Bridge, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "get_random_bytes":
		return bridge.GetRandomBytes(toolArgInt(args, "length", 0))
	case "get_random_integers":
		return bridge.GetRandomIntegers(
			toolArgInt(args, "count", 0),
			toolArgInt64(args, "min", 0),
			toolArgInt64(args, "max", 0),
		)
	case "get_random_floats":
		return bridge.GetRandomFloats(toolArgInt(args, "count", 0))
	case "get_random_uuid":
		return bridge.GetRandomUUID(toolArgInt(args, "count", 1))
	case "get_status":
		return bridge.GetStatus(), nil
	default:
		return nil, errors.InvalidRequest("unknown tool: " + name)
	}
}

// classifyError maps an internal *errors.ServiceError to the JSON-RPC
// protocol error code the bridge promises. InternalError never leaks its
// underlying details over the wire.
func classifyError(err error) (int, string) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		return rpcCodeServerError, "internal error"
	}
	switch svcErr.Code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeMissingParameter, errors.ErrCodeInvalidFormat,
		errors.ErrCodeOutOfRange, errors.ErrCodeArithmeticRange:
		return rpcCodeInvalidRequest, svcErr.Message
	case errors.ErrCodeInsufficientEntropy:
		return rpcCodeInsufficientEntropy, svcErr.Message
	default:
		return rpcCodeServerError, "internal error"
	}
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message, Data: data}})
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
