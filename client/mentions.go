package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	domain "github.com/example/agent-chat/domain/chat"
)

// ListFiles returns references for the user's existing uploads, for
// @filename referencing without re-uploading.
func (a *HTTPSessionAPI) ListFiles(_ context.Context, accessToken string) ([]domain.FileRef, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.baseURL + "/files")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if err := a.client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("file list request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("file list request rejected: status %d", resp.StatusCode())
	}

	var body struct {
		Files []domain.FileRef `json:"files"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("malformed file list response: %w", err)
	}
	return body.Files, nil
}

// ResolveMentions finds @filename tokens in text and returns the matching
// references from the available uploads, in mention order and without
// duplicates. Unmatched mentions are ignored.
func ResolveMentions(text string, available []domain.FileRef) []domain.FileRef {
	byName := make(map[string]domain.FileRef, len(available))
	for _, ref := range available {
		byName[ref.Filename] = ref
	}

	var refs []domain.FileRef
	seen := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		if !strings.HasPrefix(field, "@") || len(field) < 2 {
			continue
		}
		name := strings.TrimPrefix(field, "@")
		ref, ok := byName[name]
		if !ok || seen[ref.Path] {
			continue
		}
		seen[ref.Path] = true
		refs = append(refs, ref)
	}
	return refs
}
