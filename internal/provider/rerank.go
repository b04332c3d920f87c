package provider

import (
	"context"
	"sort"
)

// RankedDoc is one rerank result: an index into the input documents and
// the model's relevance score.
type RankedDoc struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// RerankClient re-orders a candidate set against a query via the
// external rerank API, under the same failover policy as embedding.
type RerankClient struct {
	client *Client
	model  string
}

// NewRerankClient creates a RerankClient for the given model.
func NewRerankClient(client *Client, model string) *RerankClient {
	return &RerankClient{client: client, model: model}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []RankedDoc `json:"results"`
}

// Rerank returns min(topK, len(documents)) results ordered by descending
// score, ties broken by ascending original index.
func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedDoc, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK > len(documents) {
		topK = len(documents)
	}

	var resp rerankResponse
	err := c.client.callWithFailover(ctx, "Rerank", func(key string) *attemptError {
		return c.client.postJSON(ctx, "/rerank", key, rerankRequest{
			Model:     c.model,
			Query:     query,
			Documents: documents,
			TopN:      topK,
		}, &resp)
	})
	if err != nil {
		return nil, err
	}

	results := resp.Results
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
