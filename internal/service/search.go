package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/provider"
)

const (
	// candidateMultiplier sizes each retrieval branch relative to the
	// requested result count.
	candidateMultiplier = 4
	// maxResultCount is a defensive internal cap; the dispatcher clamps
	// to [1, 10] before calling.
	maxResultCount = 20
	// maxQueryLength bounds accepted query text.
	maxQueryLength = 10_000
	// maxAdditionalURLs caps the additional-documentation list.
	maxAdditionalURLs = 10
	// untitledKey groups chunks whose parsed title is empty.
	untitledKey = "untitled"
	// chunkSeparator joins member chunks of a merged group.
	chunkSeparator = "\n\n---\n\n"
)

// ErrInvalidQuery is returned for empty or oversized queries.
var ErrInvalidQuery = errors.New("service: query is empty or too long")

// QueryEmbedder abstracts query embedding for testability.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticSearcher abstracts ANN retrieval over chunk vectors.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, queryVec []float32, k int) ([]model.Chunk, error)
}

// KeywordSearcher abstracts lexical retrieval over the same chunks.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query string, k int) ([]model.Chunk, error)
}

// Reranker abstracts the second-stage relevance model.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]provider.RankedDoc, error)
}

// SearchResult is the hybrid engine's response: the reranked groups plus
// related URLs that did not make the final cut.
type SearchResult struct {
	Results        []model.RankedResult  `json:"results"`
	AdditionalURLs []model.AdditionalURL `json:"additionalUrls,omitempty"`
}

// SearchService orchestrates the hybrid retrieval pipeline: parallel
// semantic + keyword candidate retrieval, semantic-priority merging,
// title coalescing, and external reranking. Either branch and the
// reranker may fail without failing the search.
type SearchService struct {
	embedder QueryEmbedder
	semantic SemanticSearcher
	keyword  KeywordSearcher
	reranker Reranker
}

// NewSearchService creates a SearchService.
func NewSearchService(embedder QueryEmbedder, semantic SemanticSearcher, keyword KeywordSearcher, reranker Reranker) *SearchService {
	return &SearchService{
		embedder: embedder,
		semantic: semantic,
		keyword:  keyword,
		reranker: reranker,
	}
}

// Search runs the full pipeline for a query. resultCount is clamped to
// [1, maxResultCount]. Branch and reranker failures degrade: the search
// succeeds with whatever candidates survive, down to an empty result.
func (s *SearchService) Search(ctx context.Context, query string, resultCount int) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(query) > maxQueryLength {
		return nil, ErrInvalidQuery
	}

	if resultCount < 1 {
		resultCount = 1
	}
	if resultCount > maxResultCount {
		resultCount = maxResultCount
	}

	branchK := candidateMultiplier * resultCount

	// Fan out the two branches. Each degrades to nil on failure; both
	// failing yields an empty but successful response.
	var semanticChunks, keywordChunks []model.Chunk
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("semantic branch degraded: embed failed", "error", err)
			return
		}
		chunks, err := s.semantic.SemanticSearch(ctx, vec, branchK)
		if err != nil {
			slog.Warn("semantic branch degraded: search failed", "error", err)
			return
		}
		semanticChunks = chunks
	}()

	go func() {
		defer wg.Done()
		chunks, err := s.keyword.KeywordSearch(ctx, query, branchK)
		if err != nil {
			slog.Warn("keyword branch degraded: search failed", "error", err)
			return
		}
		keywordChunks = chunks
	}()

	wg.Wait()

	merged := mergeCandidates(semanticChunks, keywordChunks)
	groups := coalesceByTitle(merged)

	if len(groups) == 0 {
		return &SearchResult{Results: []model.RankedResult{}}, nil
	}

	results := s.rerankGroups(ctx, query, groups, resultCount)
	additional := additionalURLs(groups, results)

	slog.Info("hybrid search complete",
		"semantic_candidates", len(semanticChunks),
		"keyword_candidates", len(keywordChunks),
		"merged_groups", len(groups),
		"results", len(results),
		"additional_urls", len(additional),
	)

	return &SearchResult{Results: results, AdditionalURLs: additional}, nil
}

// mergeCandidates appends semantic candidates first, then keyword
// candidates, skipping chunk ids already emitted. Order within each
// branch is preserved.
func mergeCandidates(semantic, keyword []model.Chunk) []model.Candidate {
	seen := make(map[string]struct{}, len(semantic)+len(keyword))
	merged := make([]model.Candidate, 0, len(semantic)+len(keyword))

	appendBranch := func(chunks []model.Chunk, prov model.Provenance) {
		for rank, c := range chunks {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			merged = append(merged, model.Candidate{Chunk: c, Provenance: prov, Rank: rank})
		}
	}

	appendBranch(semantic, model.ProvenanceSemantic)
	appendBranch(keyword, model.ProvenanceKeyword)
	return merged
}

// coalesceByTitle partitions candidates into one group per distinct
// (url, title) pair, in first-encountered order. The first member is the
// primary; content is the members joined in chunk_index order.
func coalesceByTitle(candidates []model.Candidate) []model.MergedGroup {
	type groupAcc struct {
		primary model.Chunk
		members []model.Chunk
	}

	var order []string
	accs := make(map[string]*groupAcc)

	for _, cand := range candidates {
		title := strings.TrimSpace(cand.Chunk.Title)
		if title == "" {
			title = untitledKey
		}
		key := cand.Chunk.URL + "\x00" + title

		acc, ok := accs[key]
		if !ok {
			acc = &groupAcc{primary: cand.Chunk}
			accs[key] = acc
			order = append(order, key)
		}
		acc.members = append(acc.members, cand.Chunk)
	}

	groups := make([]model.MergedGroup, 0, len(order))
	for _, key := range order {
		acc := accs[key]

		members := make([]model.Chunk, len(acc.members))
		copy(members, acc.members)
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].ChunkIndex < members[j].ChunkIndex
		})

		parts := make([]string, len(members))
		indexSet := make(map[int]struct{}, len(members))
		var indices []int
		for i, m := range members {
			parts[i] = m.Content
			if _, dup := indexSet[m.ChunkIndex]; !dup {
				indexSet[m.ChunkIndex] = struct{}{}
				indices = append(indices, m.ChunkIndex)
			}
		}
		sort.Ints(indices)

		title := strings.TrimSpace(acc.primary.Title)
		if title == "" {
			title = untitledKey
		}

		group := model.MergedGroup{
			ID:      acc.primary.ID,
			URL:     acc.primary.URL,
			Title:   title,
			Content: strings.Join(parts, chunkSeparator),
		}

		group.ChunkIndex, group.TotalChunks = deriveIndices(indices, acc.primary.TotalChunks)
		if len(indices) > 1 {
			group.MergedChunkIndices = indices
		}

		groups = append(groups, group)
	}

	return groups
}

// deriveIndices computes the (chunk_index, total_chunks) pair for a
// merged group. A group covering every chunk of its document collapses
// to (0, 1): the whole page is present.
func deriveIndices(sorted []int, totalChunks int) (int, int) {
	if len(sorted) == 1 {
		return sorted[0], totalChunks
	}
	if len(sorted) == totalChunks {
		complete := true
		for i, idx := range sorted {
			if idx != i {
				complete = false
				break
			}
		}
		if complete {
			return 0, 1
		}
	}
	return sorted[0], totalChunks
}

// rerankGroups asks the reranker to pick and order the final results.
// On failure it falls back to the pre-rerank group order truncated to
// resultCount.
func (s *SearchService) rerankGroups(ctx context.Context, query string, groups []model.MergedGroup, resultCount int) []model.RankedResult {
	topK := resultCount
	if topK > len(groups) {
		topK = len(groups)
	}

	documents := make([]string, len(groups))
	for i, g := range groups {
		documents[i] = g.Content
	}

	ranked, err := s.reranker.Rerank(ctx, query, documents, topK)
	if err != nil {
		slog.Warn("rerank degraded: using pre-rerank order", "error", err)
		results := make([]model.RankedResult, 0, topK)
		for i := 0; i < topK; i++ {
			results = append(results, model.RankedResult{MergedGroup: groups[i], OriginalIndex: i})
		}
		return results
	}

	results := make([]model.RankedResult, 0, len(ranked))
	for pos, hit := range ranked {
		if hit.Index < 0 || hit.Index >= len(groups) {
			slog.Warn("rerank returned out-of-range index", "index", hit.Index, "groups", len(groups))
			continue
		}
		results = append(results, model.RankedResult{MergedGroup: groups[hit.Index], OriginalIndex: pos})
	}
	return results
}

// additionalURLs lists merged groups whose URL is absent from the final
// results: up to maxAdditionalURLs entries, deduplicated by URL, in
// group order.
func additionalURLs(groups []model.MergedGroup, results []model.RankedResult) []model.AdditionalURL {
	inResults := make(map[string]struct{}, len(results))
	for _, r := range results {
		inResults[r.URL] = struct{}{}
	}

	var out []model.AdditionalURL
	seen := make(map[string]struct{})
	for _, g := range groups {
		if _, ok := inResults[g.URL]; ok {
			continue
		}
		if _, dup := seen[g.URL]; dup {
			continue
		}
		seen[g.URL] = struct{}{}
		out = append(out, model.AdditionalURL{
			URL:            g.URL,
			Title:          g.Title,
			CharacterCount: len(g.Content),
		})
		if len(out) == maxAdditionalURLs {
			break
		}
	}
	return out
}

// PageStore abstracts whole-document lookup for the fetch tool.
type PageStore interface {
	GetPageByURL(ctx context.Context, url string) (*model.Page, error)
}
