// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes catalog browsing and sync control for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/catalogservice"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/source"
)

// ManifestFormatURI is the resource URI of the manifest format contract.
const ManifestFormatURI = "appcatalog://manifest-format"

// Server wraps the MCP server with catalog tools.
type Server struct {
	mcp *server.MCPServer
	svc *catalogservice.Service
}

// New creates a new MCP server with all catalog tools registered.
func New(svc *catalogservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"appcatalog",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_apps",
		mcp.WithDescription("Search catalog apps by name, description and tags. Unsupported apps are excluded."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchApps)

	s.mcp.AddTool(mcp.NewTool("get_app",
		mcp.WithDescription("Get the full catalog entry of an app by any of its bundle identifiers."),
		mcp.WithString("bundle_id", mcp.Required(), mcp.Description("Bundle identifier, e.g. com.acme.notes")),
	), s.getApp)

	s.mcp.AddTool(mcp.NewTool("list_sync_runs",
		mcp.WithDescription("List recent catalog sync runs, newest first, with their statistics."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.listSyncRuns)

	s.mcp.AddTool(mcp.NewTool("trigger_sync",
		mcp.WithDescription("Run a catalog sync now and return the finished run. "+
			"Fails if another sync is in progress."),
	), s.triggerSync)

	s.mcp.AddTool(mcp.NewTool("preview_sync",
		mcp.WithDescription("Reconcile the source against the catalog without writing anything. "+
			"Returns the counts and the per-app decisions a sync would apply."),
	), s.previewSync)

	s.mcp.AddTool(mcp.NewTool("validate_manifest",
		mcp.WithDescription("Validate an app manifest document (YAML or JSON) against the manifest format "+
			"contract and return the normalized records. Read the contract first via "+
			"get_manifest_contract or the "+ManifestFormatURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Manifest document: one mapping or a list of mappings")),
	), s.validateManifest)

	s.mcp.AddTool(mcp.NewTool("get_manifest_contract",
		mcp.WithDescription("Returns the canonical app manifest format accepted by catalog sources."),
	), s.getManifestContract)

	s.mcp.AddResource(
		mcp.NewResource(ManifestFormatURI, "Manifest Format Contract",
			mcp.WithResourceDescription("Canonical app manifest format accepted by catalog sources."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readManifestFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchApps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no apps found"), nil
	}
	return jsonResult(results)
}

func (s *Server) getApp(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bundleID, err := req.RequireString("bundle_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	app, err := s.svc.GetApp(ctx, bundleID)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", bundleID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(app)
}

func (s *Server) listSyncRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.ListRuns(ctx, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(runs)
}

func (s *Server) triggerSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := s.svc.Sync(ctx, models.TriggerManual)
	if errors.Is(err, apperr.ErrSyncInProgress) {
		return mcp.NewToolResultError("sync already in progress"), nil
	}
	if err != nil {
		if run != nil {
			return mcp.NewToolResultError(fmt.Sprintf("sync failed (run %s): %v", run.ID, err)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(run)
}

func (s *Server) previewSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.svc.Preview(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(p)
}

func (s *Server) validateManifest(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	records, err := source.ParseManifests([]byte(content))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(records)
}

func (s *Server) getManifestContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ManifestFormatContract), nil
}

func (s *Server) readManifestFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ManifestFormatURI,
			MIMEType: "text/markdown",
			Text:     ManifestFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
