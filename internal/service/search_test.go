package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/provider"
)

// mockEmbedder implements QueryEmbedder for testing.
type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.vec != nil {
		return m.vec, nil
	}
	vec := make([]float32, 8)
	vec[0] = 1.0
	return vec, nil
}

// mockSemantic implements SemanticSearcher for testing.
type mockSemantic struct {
	chunks    []model.Chunk
	err       error
	capturedK int
}

func (m *mockSemantic) SemanticSearch(ctx context.Context, vec []float32, k int) ([]model.Chunk, error) {
	m.capturedK = k
	if m.err != nil {
		return nil, m.err
	}
	return m.chunks, nil
}

// mockKeyword implements KeywordSearcher for testing.
type mockKeyword struct {
	chunks    []model.Chunk
	err       error
	capturedK int
}

func (m *mockKeyword) KeywordSearch(ctx context.Context, query string, k int) ([]model.Chunk, error) {
	m.capturedK = k
	if m.err != nil {
		return nil, m.err
	}
	return m.chunks, nil
}

// mockReranker implements Reranker for testing.
type mockReranker struct {
	results      []provider.RankedDoc
	err          error
	capturedDocs []string
	capturedTopK int
}

func (m *mockReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]provider.RankedDoc, error) {
	m.capturedDocs = documents
	m.capturedTopK = topK
	if m.err != nil {
		return nil, m.err
	}
	if m.results != nil {
		return m.results, nil
	}
	// Default: identity ordering
	out := make([]provider.RankedDoc, 0, topK)
	for i := 0; i < topK; i++ {
		out = append(out, provider.RankedDoc{Index: i, Score: 1.0 - float64(i)*0.1})
	}
	return out, nil
}

func makeChunk(id, url, title, content string, index, total int) model.Chunk {
	return model.Chunk{
		ID: id, URL: url, Title: title, Content: content,
		ChunkIndex: index, TotalChunks: total,
	}
}

func newTestService(sem *mockSemantic, kw *mockKeyword, rr *mockReranker) *SearchService {
	return NewSearchService(&mockEmbedder{}, sem, kw, rr)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc := newTestService(&mockSemantic{}, &mockKeyword{}, &mockReranker{})

	_, err := svc.Search(context.Background(), "   ", 4)
	if err != ErrInvalidQuery {
		t.Fatalf("error = %v, want ErrInvalidQuery", err)
	}
}

func TestSearch_OversizedQuery(t *testing.T) {
	svc := newTestService(&mockSemantic{}, &mockKeyword{}, &mockReranker{})

	_, err := svc.Search(context.Background(), strings.Repeat("x", 10_001), 4)
	if err != ErrInvalidQuery {
		t.Fatalf("error = %v, want ErrInvalidQuery", err)
	}
}

func TestSearch_BranchPoolSize(t *testing.T) {
	sem := &mockSemantic{}
	kw := &mockKeyword{}
	svc := newTestService(sem, kw, &mockReranker{})

	if _, err := svc.Search(context.Background(), "swiftui", 4); err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	if sem.capturedK != 16 {
		t.Errorf("semantic k = %d, want 16", sem.capturedK)
	}
	if kw.capturedK != 16 {
		t.Errorf("keyword k = %d, want 16", kw.capturedK)
	}
}

func TestSearch_ResultCountClamped(t *testing.T) {
	var chunks []model.Chunk
	for i := 0; i < 120; i++ {
		url := fmt.Sprintf("https://developer.apple.com/doc/%d", i)
		chunks = append(chunks, makeChunk(fmt.Sprintf("c%d", i), url, fmt.Sprintf("Doc %d", i), "content", 0, 1))
	}
	svc := newTestService(&mockSemantic{chunks: chunks}, &mockKeyword{}, &mockReranker{})

	result, err := svc.Search(context.Background(), "swiftui", 99)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(result.Results) > 20 {
		t.Errorf("len(results) = %d, want <= 20", len(result.Results))
	}
}

func TestMergeCandidates_DedupByID(t *testing.T) {
	shared := makeChunk("dup", "https://u/a", "A", "shared", 0, 2)
	semantic := []model.Chunk{
		shared,
		makeChunk("s1", "https://u/a", "A", "sem only", 1, 2),
	}
	keyword := []model.Chunk{
		shared,
		makeChunk("k1", "https://u/b", "B", "kw only", 0, 1),
	}

	merged := mergeCandidates(semantic, keyword)

	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}
	seen := map[string]int{}
	for _, c := range merged {
		seen[c.Chunk.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("chunk %s appears %d times, want 1", id, n)
		}
	}
	// Semantic candidates come first
	if merged[0].Provenance != model.ProvenanceSemantic || merged[0].Chunk.ID != "dup" {
		t.Errorf("merged[0] = %+v, want semantic dup", merged[0])
	}
	if merged[2].Provenance != model.ProvenanceKeyword {
		t.Errorf("merged[2].Provenance = %s, want keyword", merged[2].Provenance)
	}
}

func TestCoalesce_ContentJoinedInChunkIndexOrder(t *testing.T) {
	candidates := mergeCandidates([]model.Chunk{
		makeChunk("c2", "https://u/a", "Guide", "part three", 2, 4),
		makeChunk("c0", "https://u/a", "Guide", "part one", 0, 4),
		makeChunk("c1", "https://u/a", "Guide", "part two", 1, 4),
	}, nil)

	groups := coalesceByTitle(candidates)

	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	g := groups[0]
	want := "part one\n\n---\n\npart two\n\n---\n\npart three"
	if g.Content != want {
		t.Errorf("Content = %q, want %q", g.Content, want)
	}
	if len(g.MergedChunkIndices) != 3 {
		t.Fatalf("MergedChunkIndices = %v, want 3 entries", g.MergedChunkIndices)
	}
	for i := 1; i < len(g.MergedChunkIndices); i++ {
		if g.MergedChunkIndices[i-1] >= g.MergedChunkIndices[i] {
			t.Errorf("MergedChunkIndices not strictly ascending: %v", g.MergedChunkIndices)
		}
	}
	// Primary is the first-encountered chunk
	if g.ID != "c2" {
		t.Errorf("group ID = %s, want c2 (first encountered)", g.ID)
	}
	// Partial coverage: chunk_index = min, total preserved
	if g.ChunkIndex != 0 || g.TotalChunks != 4 {
		t.Errorf("(chunk_index, total) = (%d, %d), want (0, 4)", g.ChunkIndex, g.TotalChunks)
	}
}

func TestCoalesce_CompleteDocumentCollapses(t *testing.T) {
	candidates := mergeCandidates([]model.Chunk{
		makeChunk("c0", "https://u/a", "Guide", "one", 0, 3),
		makeChunk("c1", "https://u/a", "Guide", "two", 1, 3),
		makeChunk("c2", "https://u/a", "Guide", "three", 2, 3),
	}, nil)

	groups := coalesceByTitle(candidates)

	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	if groups[0].ChunkIndex != 0 || groups[0].TotalChunks != 1 {
		t.Errorf("(chunk_index, total) = (%d, %d), want (0, 1)",
			groups[0].ChunkIndex, groups[0].TotalChunks)
	}
}

func TestCoalesce_SingleChunkKeepsIndices(t *testing.T) {
	candidates := mergeCandidates([]model.Chunk{
		makeChunk("c3", "https://u/a", "Guide", "middle", 3, 7),
	}, nil)

	groups := coalesceByTitle(candidates)

	g := groups[0]
	if g.ChunkIndex != 3 || g.TotalChunks != 7 {
		t.Errorf("(chunk_index, total) = (%d, %d), want (3, 7)", g.ChunkIndex, g.TotalChunks)
	}
	if g.MergedChunkIndices != nil {
		t.Errorf("MergedChunkIndices = %v, want omitted for single chunk", g.MergedChunkIndices)
	}
}

func TestCoalesce_EmptyTitleGroupsAsUntitled(t *testing.T) {
	candidates := mergeCandidates([]model.Chunk{
		makeChunk("c0", "https://u/a", "", "anonymous content", 0, 1),
	}, nil)

	groups := coalesceByTitle(candidates)

	if groups[0].Title != "untitled" {
		t.Errorf("Title = %q, want untitled", groups[0].Title)
	}
}

func TestSearch_SemanticFailureDegradesToKeyword(t *testing.T) {
	kwChunks := []model.Chunk{
		makeChunk("k0", "https://u/a", "A", "alpha", 0, 1),
		makeChunk("k1", "https://u/b", "B", "beta", 0, 1),
	}
	svc := newTestService(
		&mockSemantic{err: fmt.Errorf("store down")},
		&mockKeyword{chunks: kwChunks},
		&mockReranker{},
	)

	result, err := svc.Search(context.Background(), "swiftui", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(result.Results))
	}
	if result.Results[0].ID != "k0" || result.Results[1].ID != "k1" {
		t.Errorf("results = %s, %s; want k0, k1", result.Results[0].ID, result.Results[1].ID)
	}
}

func TestSearch_EmbedFailureDegradesToKeyword(t *testing.T) {
	kwChunks := []model.Chunk{makeChunk("k0", "https://u/a", "A", "alpha", 0, 1)}
	svc := NewSearchService(
		&mockEmbedder{err: fmt.Errorf("provider down")},
		&mockSemantic{chunks: []model.Chunk{makeChunk("s0", "https://u/s", "S", "sigma", 0, 1)}},
		&mockKeyword{chunks: kwChunks},
		&mockReranker{},
	)

	result, err := svc.Search(context.Background(), "swiftui", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	// The semantic branch never ran: embed failed before the store call.
	if len(result.Results) != 1 || result.Results[0].ID != "k0" {
		t.Errorf("results = %+v, want only k0", result.Results)
	}
}

func TestSearch_BothBranchesFailReturnsEmpty(t *testing.T) {
	svc := newTestService(
		&mockSemantic{err: fmt.Errorf("down")},
		&mockKeyword{err: fmt.Errorf("down")},
		&mockReranker{},
	)

	result, err := svc.Search(context.Background(), "swiftui", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(result.Results))
	}
	if len(result.AdditionalURLs) != 0 {
		t.Errorf("len(additionalUrls) = %d, want 0", len(result.AdditionalURLs))
	}
}

func TestSearch_RerankFailureFallsBackToMergedOrder(t *testing.T) {
	semChunks := []model.Chunk{
		makeChunk("s0", "https://u/a", "A", "alpha", 0, 1),
		makeChunk("s1", "https://u/b", "B", "beta", 0, 1),
		makeChunk("s2", "https://u/c", "C", "gamma", 0, 1),
	}
	svc := newTestService(
		&mockSemantic{chunks: semChunks},
		&mockKeyword{},
		&mockReranker{err: fmt.Errorf("503 for all keys")},
	)

	result, err := svc.Search(context.Background(), "swiftui", 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(result.Results))
	}
	if result.Results[0].ID != "s0" || result.Results[1].ID != "s1" {
		t.Errorf("fallback order = %s, %s; want s0, s1", result.Results[0].ID, result.Results[1].ID)
	}
	if result.Results[0].OriginalIndex != 0 || result.Results[1].OriginalIndex != 1 {
		t.Errorf("original indices = %d, %d; want 0, 1",
			result.Results[0].OriginalIndex, result.Results[1].OriginalIndex)
	}
}

func TestSearch_RerankOrderAndAdditionalURLs(t *testing.T) {
	// 7 distinct titles across the two branches, 1 chunk overlap.
	var semChunks, kwChunks []model.Chunk
	for i := 0; i < 4; i++ {
		url := fmt.Sprintf("https://u/s%d", i)
		semChunks = append(semChunks, makeChunk(fmt.Sprintf("s%d", i), url, fmt.Sprintf("S%d", i), "sem", 0, 1))
	}
	kwChunks = append(kwChunks, semChunks[0]) // overlap, dropped by merge
	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://u/k%d", i)
		kwChunks = append(kwChunks, makeChunk(fmt.Sprintf("k%d", i), url, fmt.Sprintf("K%d", i), "kw", 0, 1))
	}

	rr := &mockReranker{results: []provider.RankedDoc{
		{Index: 2, Score: 0.9},
		{Index: 0, Score: 0.8},
		{Index: 5, Score: 0.7},
		{Index: 3, Score: 0.6},
	}}
	svc := newTestService(&mockSemantic{chunks: semChunks}, &mockKeyword{chunks: kwChunks}, rr)

	result, err := svc.Search(context.Background(), "swiftui navigation", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	if len(rr.capturedDocs) != 7 {
		t.Fatalf("reranked over %d groups, want 7", len(rr.capturedDocs))
	}
	if rr.capturedTopK != 4 {
		t.Errorf("rerank topK = %d, want 4", rr.capturedTopK)
	}

	wantIDs := []string{"s2", "s0", "k1", "s3"}
	if len(result.Results) != 4 {
		t.Fatalf("len(results) = %d, want 4", len(result.Results))
	}
	for i, want := range wantIDs {
		if result.Results[i].ID != want {
			t.Errorf("results[%d].ID = %s, want %s", i, result.Results[i].ID, want)
		}
		if result.Results[i].OriginalIndex != i {
			t.Errorf("results[%d].OriginalIndex = %d, want %d", i, result.Results[i].OriginalIndex, i)
		}
	}

	// 7 groups - 4 in results = 3 additional URLs
	if len(result.AdditionalURLs) != 3 {
		t.Fatalf("len(additionalUrls) = %d, want 3", len(result.AdditionalURLs))
	}
	inResults := map[string]struct{}{}
	for _, r := range result.Results {
		inResults[r.URL] = struct{}{}
	}
	seen := map[string]struct{}{}
	for _, u := range result.AdditionalURLs {
		if _, dup := seen[u.URL]; dup {
			t.Errorf("duplicate additional URL %s", u.URL)
		}
		seen[u.URL] = struct{}{}
		if _, overlap := inResults[u.URL]; overlap {
			t.Errorf("additional URL %s also present in results", u.URL)
		}
	}
}

func TestAdditionalURLs_CappedAtTen(t *testing.T) {
	var chunks []model.Chunk
	for i := 0; i < 30; i++ {
		url := fmt.Sprintf("https://u/d%d", i)
		chunks = append(chunks, makeChunk(fmt.Sprintf("c%d", i), url, fmt.Sprintf("D%d", i), "content", 0, 1))
	}
	svc := newTestService(&mockSemantic{chunks: chunks}, &mockKeyword{}, &mockReranker{})

	result, err := svc.Search(context.Background(), "swiftui", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(result.AdditionalURLs) != 10 {
		t.Errorf("len(additionalUrls) = %d, want 10", len(result.AdditionalURLs))
	}
}
