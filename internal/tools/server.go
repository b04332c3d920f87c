package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/service"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// Searcher runs the hybrid retrieval pipeline. Implemented by
// service.SearchService.
type Searcher interface {
	Search(ctx context.Context, query string, resultCount int) (*service.SearchResult, error)
}

// Resolver classifies a request's caller. Implemented by
// service.IdentityResolver.
type Resolver interface {
	Resolve(ctx context.Context, token, ip string) model.Identity
}

// Limiter enforces the two-window quota. Implemented by
// service.RateLimiter.
type Limiter interface {
	Check(ctx context.Context, identity model.Identity) model.RateDecision
}

// EventLogger records usage events best-effort. Implemented by
// service.UsageLogger.
type EventLogger interface {
	Log(event model.UsageEvent)
}

// Server is the MCP tool dispatcher: it validates tool arguments, runs
// the governance chain, invokes retrieval, and formats responses.
type Server struct {
	searcher Searcher
	pages    service.PageStore
	resolver Resolver
	limiter  Limiter
	usage    EventLogger

	subscriptionURL string
	upgradeURL      string

	mcp *mcp.Server
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Searcher        Searcher
	Pages           service.PageStore
	Resolver        Resolver
	Limiter         Limiter
	Usage           EventLogger
	SubscriptionURL string
	UpgradeURL      string
}

// NewServer creates the MCP server with the search and fetch tools
// registered.
func NewServer(cfg Config) *Server {
	s := &Server{
		searcher:        cfg.Searcher,
		pages:           cfg.Pages,
		resolver:        cfg.Resolver,
		limiter:         cfg.Limiter,
		usage:           cfg.Usage,
		subscriptionURL: cfg.SubscriptionURL,
		upgradeURL:      cfg.UpgradeURL,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "apple-rag",
			Version: Version,
		},
		nil,
	)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search",
		Description: "Search Apple developer documentation. Returns ranked passages " +
			"from the indexed corpus with source URLs, plus related pages worth fetching.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "fetch",
		Description: "Fetch the full content of a documentation page by URL. " +
			"Use URLs returned by the search tool.",
	}, s.handleFetch)

	return s
}

// MCPServer returns the underlying MCP server for transport mounting.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// textResult wraps rendered text as a tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
