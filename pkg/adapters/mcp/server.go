// Package mcp exposes a kernel session as an MCP server, so agent
// frontends can execute cells and manage the kernel as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/kernel"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ExecuteResponse is the structured result of the execute_cell tool.
type ExecuteResponse struct {
	Cell   *domain.Cell `json:"cell" jsonschema_description:"Terminal snapshot of the executed cell"`
	Failed bool         `json:"failed" jsonschema_description:"True when the cell finished in an error state"`
}

// StatusResponse is the structured result of the kernel_status tool.
type StatusResponse struct {
	SessionID   string `json:"session_id"`
	Environment string `json:"environment"`
	Status      string `json:"status" jsonschema_description:"idle, busy or disconnected"`
	Restarts    int    `json:"restarts"`
}

// Server wraps a live kernel session and exposes it as an MCP Server.
type Server struct {
	session   *kernel.Session
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance around a connected session.
func NewServer(session *kernel.Session) *Server {
	s := &Server{
		session:   session,
		mcpServer: server.NewMCPServer("kiln-mcp", strings.TrimSpace(kiln.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println("\nShutdown signal received, shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: execute_cell
	executeTool := mcp.NewTool("execute_cell",
		mcp.WithDescription("Execute a code or markdown cell in the kernel and return its terminal snapshot."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Cell source code")),
		mcp.WithString("kind", mcp.Description("Cell kind: code (default) or markdown")),
		mcp.WithOutputSchema[ExecuteResponse](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecute))

	// TOOL: interrupt_kernel
	s.mcpServer.AddTool(mcp.NewTool("interrupt_kernel",
		mcp.WithDescription("Interrupt the currently running cell. The kernel stays alive."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.session.InterruptKernel(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("interrupt failed: %v", err)), nil
		}
		return mcp.NewToolResultText("interrupt delivered"), nil
	})

	// TOOL: restart_kernel
	s.mcpServer.AddTool(mcp.NewTool("restart_kernel",
		mcp.WithDescription("Restart the kernel process. All interpreter state is lost."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.session.RestartKernel(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("restart failed: %v", err)), nil
		}
		return mcp.NewToolResultText("kernel restarted"), nil
	})

	// TOOL: kernel_status
	statusTool := mcp.NewTool("kernel_status",
		mcp.WithDescription("Report the kernel session status."),
		mcp.WithOutputSchema[StatusResponse](),
	)
	s.mcpServer.AddTool(statusTool, mcp.NewStructuredToolHandler(s.handleStatus))
}

// Handler methods for structured tools

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ExecuteResponse, error) {
	source, _ := args["source"].(string)
	if strings.TrimSpace(source) == "" {
		return ExecuteResponse{}, fmt.Errorf("source is required")
	}

	kind := domain.CellKindCode
	if k, _ := args["kind"].(string); k == string(domain.CellKindMarkdown) {
		kind = domain.CellKindMarkdown
	}

	cell := domain.NewCell(kind, source, "", 0)
	stream := s.session.ExecuteCell(ctx, cell)

	var final *domain.Cell
	for snap := range stream.Snapshots() {
		final = snap
	}
	if err := stream.Err(); err != nil {
		return ExecuteResponse{}, fmt.Errorf("execute failed: %w", err)
	}

	return ExecuteResponse{
		Cell:   final,
		Failed: final != nil && final.State == domain.CellStateError,
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StatusResponse, error) {
	resp := StatusResponse{
		SessionID:   s.session.ID(),
		Environment: s.session.Environment().String(),
		Status:      string(s.session.Status()),
	}
	if rec := s.session.Record(); rec != nil {
		resp.Restarts = rec.Restarts
	}
	return resp, nil
}

func (s *Server) registerResources() {
	// EXPOSE: kiln://session
	s.mcpServer.AddResource(mcp.NewResource("kiln://session", "Kernel Session Record",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rec := s.session.Record()
		if rec == nil {
			rec = domain.NewSessionRecord(s.session.ID(), s.session.Environment())
		}
		jsonBytes, _ := json.Marshal(rec)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "kiln://session",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
