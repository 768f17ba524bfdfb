// Package jira adapts the Jira REST v2 search and comment endpoints to the
// harvester. Issue and comment payloads stay opaque (json.RawMessage) so raw
// records keep every field the server sent.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	searchPath  = "/rest/api/2/search"
	commentPath = "/rest/api/2/issue/%s/comment"

	// DefaultPageSize mirrors the server-side maxResults cap on Apache's Jira.
	DefaultPageSize = 50
)

// DefaultFields is the field selection requested for every search page.
var DefaultFields = []string{
	"summary", "description", "project", "reporter", "assignee",
	"status", "priority", "labels", "created", "updated",
}

// Getter performs a GET with retries. *httpclient.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Config selects the server and search shape.
type Config struct {
	BaseURL  string
	PageSize int
	Fields   []string
}

// Client issues search and comment requests through a Getter.
type Client struct {
	baseURL  string
	pageSize int
	fields   string
	getter   Getter
}

// Page is one search response.
type Page struct {
	Issues []json.RawMessage `json:"issues"`
	Total  int               `json:"total"`
}

type commentsResponse struct {
	Comments []json.RawMessage `json:"comments"`
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config, getter Getter) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
		fields:   strings.Join(fields, ","),
		getter:   getter,
	}
}

// PageSize is the maxResults value sent with every search.
func (c *Client) PageSize() int {
	return c.pageSize
}

// SearchPage fetches the issues of project starting at startAt.
func (c *Client) SearchPage(ctx context.Context, project string, startAt int) (Page, error) {
	params := url.Values{}
	params.Set("jql", "project="+project)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(c.pageSize))
	params.Set("fields", c.fields)

	body, err := c.getter.Get(ctx, c.baseURL+searchPath, params)
	if err != nil {
		return Page{}, fmt.Errorf("search %s at %d: %w", project, startAt, err)
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, fmt.Errorf("decoding search response for %s at %d: %w", project, startAt, err)
	}
	return page, nil
}

// Comments fetches the comment thread of one issue. The result is never nil.
func (c *Client) Comments(ctx context.Context, key string) ([]json.RawMessage, error) {
	target := c.baseURL + fmt.Sprintf(commentPath, url.PathEscape(key))
	body, err := c.getter.Get(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("comments for %s: %w", key, err)
	}

	var resp commentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding comments for %s: %w", key, err)
	}
	if resp.Comments == nil {
		return []json.RawMessage{}, nil
	}
	return resp.Comments, nil
}

// IssueKey returns the "key" member of a raw issue, or "" if it has none.
func IssueKey(raw json.RawMessage) string {
	var head struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Key
}
