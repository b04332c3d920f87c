package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/applerag/apple-rag-backend/internal/middleware"
	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/service"
)

const (
	// defaultResultCount is used when result_count is absent or not a number.
	defaultResultCount = 4
	// minResultCount and maxResultCount clamp the caller's request.
	minResultCount = 1
	maxResultCount = 10
)

// SearchArgs are the search tool's arguments.
type SearchArgs struct {
	Query       string `json:"query" jsonschema:"the natural-language query to run against the documentation corpus"`
	ResultCount any    `json:"result_count,omitempty" jsonschema:"number of results to return (1-10, default 4)"`
}

// handleSearch validates arguments, runs the governance chain, invokes
// the hybrid engine, and renders the response text.
func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	info := middleware.ClientInfoFromContext(ctx)

	query := args.Query
	if strings.TrimSpace(query) == "" {
		return nil, nil, NewInvalidParamsError("query must be a non-empty string")
	}
	resultCount := coerceResultCount(args.ResultCount)

	identity := s.resolver.Resolve(ctx, info.Token, info.IP)

	decision := s.limiter.Check(ctx, identity)
	if !decision.Allowed {
		s.logEvent(model.EventSearch, identity, info, query, 0, start, 429, errorCodeRateLimited)
		msg := RenderRateLimitDenial(decision, identity.Kind == model.IdentityAnon,
			s.subscriptionURL, s.upgradeURL, time.Now())
		return nil, nil, NewRateLimitError(msg)
	}

	cleaned := CleanQuery(query)

	result, err := s.searcher.Search(ctx, cleaned, resultCount)
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			return nil, nil, NewInvalidParamsError("query is empty or exceeds 10000 characters")
		}
		slog.Error("search tool failed", "user_id", identity.UserID, "error", err)
		s.logEvent(model.EventSearch, identity, info, query, 0, start, 500, "INTERNAL_ERROR")
		return nil, nil, NewInternalError()
	}

	text := RenderSearch(result, s.subscriptionURL, identity.Kind == model.IdentityAnon)
	s.logEvent(model.EventSearch, identity, info, query, len(result.Results), start, 200, "")

	return textResult(text), nil, nil
}

// coerceResultCount interprets the raw result_count argument: absent or
// non-numeric values become the default, numeric values are clamped to
// [minResultCount, maxResultCount].
func coerceResultCount(raw any) int {
	count := defaultResultCount
	switch v := raw.(type) {
	case nil:
	case float64:
		count = int(v)
	case int:
		count = v
	default:
		count = defaultResultCount
	}

	if count < minResultCount {
		count = minResultCount
	}
	if count > maxResultCount {
		count = maxResultCount
	}
	return count
}

// logEvent records one usage event in the background.
func (s *Server) logEvent(kind model.EventKind, identity model.Identity, info middleware.ClientInfo, payload string, resultCount int, start time.Time, status int, errorCode string) {
	s.usage.Log(model.UsageEvent{
		Kind:           kind,
		UserID:         identity.UserID,
		IP:             info.IP,
		TokenPrefix:    identity.TokenPrefix,
		Payload:        payload,
		ResultCount:    resultCount,
		ResponseTimeMs: int(time.Since(start).Milliseconds()),
		StatusCode:     status,
		ErrorCode:      errorCode,
		CreatedAt:      time.Now().UTC(),
	})
}
