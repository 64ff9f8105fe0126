package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/chat"
	"github.com/freegpt4/webapi/internal/provider"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat     *chat.Service
	Registry *provider.Registry
	Monitor  *provider.Monitor // optional; without it list_providers reports no health
	Version  string
}

// NewMCPServer creates an MCP server exposing the chat facade as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"freegpt",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("freegpt forwards questions to free AI chat providers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question and return the provider's answer."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("provider", mcp.Description("Provider name; defaults to the configured one")),
			mcp.WithString("model", mcp.Description("Model name; defaults to the configured one")),
			mcp.WithString("token", mcp.Description("Access token in private mode, or a virtual user token")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the models offered for a provider."),
			mcp.WithString("provider", mcp.Description("Provider name (default Auto)")),
		),
		mcpListModels(deps),
	)

	s.AddTool(
		mcp.NewTool("list_providers",
			mcp.WithDescription("List the available providers with their health status."),
		),
		mcpListProviders(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		ans, err := deps.Chat.AskWith(ctx, question, req.GetString("token", ""), chat.Override{
			Provider: req.GetString("provider", ""),
			Model:    req.GetString("model", ""),
		})
		if err != nil {
			var ae *apperr.Error
			switch {
			case errors.As(err, &ae) && ae.Public():
				return mcpError(ae.Message), nil
			case apperr.Is(err, apperr.Provider):
				return mcpError("AI provider request failed"), nil
			}
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(ans.Text), nil
	}
}

func mcpListModels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("provider", provider.Auto)
		if name == "" {
			name = provider.Auto
		}
		b, err := json.Marshal(deps.Registry.Models(name))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal models: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListProviders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		type providerResult struct {
			Name        string  `json:"name"`
			Status      string  `json:"status"`
			SuccessRate float64 `json:"success_rate"`
		}

		names := deps.Registry.Names()
		results := make([]providerResult, len(names))
		for i, name := range names {
			results[i] = providerResult{Name: name, Status: string(provider.StatusUnknown)}
			if deps.Monitor != nil && name != provider.Auto {
				h := deps.Monitor.Health(name)
				results[i].Status = string(h.Status)
				results[i].SuccessRate = h.SuccessRate()
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal providers: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
