package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
	"github.com/nguyentranbao-ct/chat-sync/pkg/util"
)

type httpSource struct {
	http    *resty.Client
	baseURL string
}

// NewHTTPSource fetches snapshots from the authoritative service,
// GET {base}/api/v1/snapshots/{resource}.
func NewHTTPSource(conf *config.Config) (Source, error) {
	if conf.Snapshot.BaseURL == "" {
		return nil, fmt.Errorf("snapshot base url is required")
	}
	return &httpSource{
		http:    util.NewRestyClient(),
		baseURL: strings.TrimRight(conf.Snapshot.BaseURL, "/"),
	}, nil
}

type snapshotResponse struct {
	Items   []json.RawMessage `json:"items"`
	AsOfSeq uint64            `json:"as_of_seq"`
}

func (s *httpSource) Fetch(ctx context.Context, resource models.ResourceType, filter stream.Filter) (*Result, error) {
	var out snapshotResponse
	req := s.http.R().
		SetContext(ctx).
		SetResult(&out)
	if !filter.IsZero() {
		req.SetQueryParam(filter.Field, filter.Value)
	}

	resp, err := req.Get(fmt.Sprintf("%s/api/v1/snapshots/%s", s.baseURL, resource))
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, fmt.Errorf("get snapshot: %w", models.ErrUnauthorized)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get snapshot: unexpected status code: %d", resp.StatusCode())
	}

	result := &Result{AsOfSeq: out.AsOfSeq}
	for _, raw := range out.Items {
		ent, err := models.DecodeSnapshotRecord(resource, raw)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot item: %w", err)
		}
		result.Entities = append(result.Entities, ent)
	}
	return result, nil
}
