package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/applerag/apple-rag-backend/internal/middleware"
	"github.com/applerag/apple-rag-backend/internal/model"
)

// FetchArgs are the fetch tool's arguments.
type FetchArgs struct {
	URL string `json:"url" jsonschema:"the documentation page URL to fetch in full"`
}

// handleFetch validates the URL, runs the governance chain, looks up the
// assembled document, and renders it.
func (s *Server) handleFetch(ctx context.Context, req *mcp.CallToolRequest, args FetchArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	info := middleware.ClientInfoFromContext(ctx)

	normalized, err := NormalizeURL(args.URL)
	if err != nil {
		return nil, nil, NewInvalidParamsError("invalid url: " + err.Error())
	}

	identity := s.resolver.Resolve(ctx, info.Token, info.IP)

	decision := s.limiter.Check(ctx, identity)
	if !decision.Allowed {
		s.logEvent(model.EventFetch, identity, info, normalized, 0, start, 429, errorCodeRateLimited)
		msg := RenderRateLimitDenial(decision, identity.Kind == model.IdentityAnon,
			s.subscriptionURL, s.upgradeURL, time.Now())
		return nil, nil, NewRateLimitError(msg)
	}

	page, err := s.pages.GetPageByURL(ctx, normalized)
	if err != nil {
		slog.Error("fetch tool failed", "url", normalized, "error", err)
		s.logEvent(model.EventFetch, identity, info, normalized, 0, start, 500, "INTERNAL_ERROR")
		return nil, nil, NewInternalError()
	}
	if page == nil {
		s.logEvent(model.EventFetch, identity, info, normalized, 0, start, 404, errorCodeNotFound)
		return nil, nil, NewInvalidParamsError("no document found for URL: " + normalized)
	}

	text := RenderFetch(page, s.subscriptionURL, identity.Kind == model.IdentityAnon)
	s.logEvent(model.EventFetch, identity, info, normalized, 1, start, 200, "")

	return textResult(text), nil, nil
}
