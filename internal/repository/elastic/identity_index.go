// Package elastic keeps a search index of public identity profiles.
package elastic

import (
	"context"
	"fmt"

	"social-service/internal/client"
	"social-service/internal/models"
	"social-service/internal/repository"
)

const identityMapping = `{
  "mappings": {
    "properties": {
      "id":           {"type": "keyword"},
      "handle":       {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "display_name": {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "avatar_url":   {"type": "keyword", "index": false},
      "verified":     {"type": "boolean"},
      "online":       {"type": "boolean"}
    }
  }
}`

type IdentityIndex struct {
	es    *client.ESClient
	index string
}

var _ repository.IdentitySearcher = (*IdentityIndex)(nil)

func NewIdentityIndex(es *client.ESClient, index string) *IdentityIndex {
	return &IdentityIndex{es: es, index: index}
}

func (i *IdentityIndex) EnsureIndex(ctx context.Context) error {
	return i.es.EnsureIndex(ctx, i.index, identityMapping)
}

// IndexProfile upserts the public projection of an identity.
func (i *IdentityIndex) IndexProfile(ctx context.Context, profile models.PublicProfile) error {
	if err := i.es.IndexDocument(ctx, i.index, profile.ID, profile); err != nil {
		return fmt.Errorf("index identity %s: %w", profile.ID, err)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.PublicProfile `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchIdentities runs a case-insensitive substring match on handle and display name.
// Wildcards run against the keyword subfields so patterns may span whitespace.
func (i *IdentityIndex) SearchIdentities(ctx context.Context, query string, limit int) ([]models.PublicProfile, error) {
	pattern := "*" + escapeWildcard(query) + "*"
	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{"wildcard": map[string]interface{}{
						"handle.raw": map[string]interface{}{"value": pattern, "case_insensitive": true},
					}},
					map[string]interface{}{"wildcard": map[string]interface{}{
						"display_name.raw": map[string]interface{}{"value": pattern, "case_insensitive": true},
					}},
				},
				"minimum_should_match": 1,
			},
		},
		"sort": []interface{}{map[string]interface{}{"handle.raw": "asc"}},
	}

	res, err := i.es.Search(ctx, i.index, body)
	if err != nil {
		return nil, err
	}
	var parsed searchResponse
	if err := i.es.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	out := make([]models.PublicProfile, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}

func escapeWildcard(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '*' || r == '?' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
