package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// SourceDescription is one attached source on a person.
type SourceDescription struct {
	About  string       `json:"about"`
	Titles []TitleValue `json:"titles"`
}

// TitleValue is a single title string on a source description.
type TitleValue struct {
	Value string `json:"value"`
}

// SearchEntry is one candidate from a match search, with its API-provided
// confidence score.
type SearchEntry struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// AttachedSources returns the source descriptions attached to a person.
// A person with no sources yields an empty slice, not an error.
func (c *Client) AttachedSources(ctx context.Context, pid string) ([]SourceDescription, error) {
	url := fmt.Sprintf("%s/platform/tree/persons/%s/sources", c.baseURL, pid)
	body, ok, err := c.get(ctx, "attached sources", pid, url)
	if err != nil || !ok {
		return nil, err
	}

	var payload struct {
		SourceDescriptions []SourceDescription `json:"sourceDescriptions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding attached sources for %s: %w", pid, err)
	}
	return payload.SourceDescriptions, nil
}

// SearchSources returns unattached candidate sources for a person from the
// configured record collection.
func (c *Client) SearchSources(ctx context.Context, pid string) ([]SearchEntry, error) {
	url := fmt.Sprintf("%s/platform/tree/persons/%s/matches?collection=%s", c.baseURL, pid, c.collection)
	body, ok, err := c.get(ctx, "search sources", pid, url)
	if err != nil || !ok {
		return nil, err
	}

	var payload struct {
		Entries []SearchEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding source search for %s: %w", pid, err)
	}
	return payload.Entries, nil
}

// PersonaRecord returns the raw nested record document for an ark id. The
// boolean is false when the record resolved to an empty result.
func (c *Client) PersonaRecord(ctx context.Context, arkID string) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/platform/records/personas/%s", c.baseURL, arkID)
	return c.get(ctx, "persona record", arkID, url)
}

// TreeMatches runs an identity match search. The query is passed through
// verbatim; it is already in the API's `field:value+field:"a+b"` form.
func (c *Client) TreeMatches(ctx context.Context, query string) ([]SearchEntry, error) {
	url := fmt.Sprintf("%s/platform/tree/matches?q=%s", c.baseURL, query)
	body, ok, err := c.get(ctx, "tree matches", query, url)
	if err != nil || !ok {
		return nil, err
	}

	var payload struct {
		Entries []SearchEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding tree matches: %w", err)
	}
	return payload.Entries, nil
}
