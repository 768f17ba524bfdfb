package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	url    string
	params url.Values
}

type fakeGetter struct {
	calls []call
	body  []byte
	err   error
}

func (f *fakeGetter) Get(_ context.Context, rawURL string, params url.Values) ([]byte, error) {
	f.calls = append(f.calls, call{url: rawURL, params: params})
	return f.body, f.err
}

func TestSearchPageBuildsQuery(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte(`{"startAt":50,"total":120,"issues":[{"key":"HDFS-1"},{"key":"HDFS-2"}]}`)}
	c := NewClient(Config{BaseURL: "https://issues.apache.org/jira/", PageSize: 25}, getter)

	page, err := c.SearchPage(context.Background(), "HDFS", 50)
	require.NoError(t, err)
	assert.Equal(t, 120, page.Total)
	require.Len(t, page.Issues, 2)
	assert.Equal(t, "HDFS-2", IssueKey(page.Issues[1]))

	require.Len(t, getter.calls, 1)
	got := getter.calls[0]
	assert.Equal(t, "https://issues.apache.org/jira/rest/api/2/search", got.url)
	assert.Equal(t, "project=HDFS", got.params.Get("jql"))
	assert.Equal(t, "50", got.params.Get("startAt"))
	assert.Equal(t, "25", got.params.Get("maxResults"))
	assert.Equal(t, "summary,description,project,reporter,assignee,status,priority,labels,created,updated", got.params.Get("fields"))
}

func TestSearchPageDefaults(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte(`{}`)}
	c := NewClient(Config{BaseURL: "http://jira", Fields: []string{"summary"}}, getter)
	assert.Equal(t, DefaultPageSize, c.PageSize())

	page, err := c.SearchPage(context.Background(), "SPARK", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Issues)
	assert.Zero(t, page.Total)
	assert.Equal(t, "summary", getter.calls[0].params.Get("fields"))
}

func TestSearchPageErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := NewClient(Config{BaseURL: "http://jira"}, &fakeGetter{err: boom})
	_, err := c.SearchPage(context.Background(), "HDFS", 0)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "search HDFS at 0")

	c = NewClient(Config{BaseURL: "http://jira"}, &fakeGetter{body: []byte(`<html>`)})
	_, err = c.SearchPage(context.Background(), "HDFS", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding search response")
}

func TestComments(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte(`{"comments":[{"id":"1","body":"hi"},{"id":"2","body":"there"}]}`)}
	c := NewClient(Config{BaseURL: "http://jira"}, getter)

	comments, err := c.Comments(context.Background(), "HDFS-7")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.JSONEq(t, `{"id":"2","body":"there"}`, string(comments[1]))
	assert.Equal(t, "http://jira/rest/api/2/issue/HDFS-7/comment", getter.calls[0].url)
	assert.Nil(t, getter.calls[0].params)
}

func TestCommentsMissingArrayIsEmpty(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: "http://jira"}, &fakeGetter{body: []byte(`{"total":0}`)})
	comments, err := c.Comments(context.Background(), "HDFS-7")
	require.NoError(t, err)
	assert.NotNil(t, comments)
	assert.Empty(t, comments)
}

func TestCommentsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := NewClient(Config{BaseURL: "http://jira"}, &fakeGetter{err: boom})
	_, err := c.Comments(context.Background(), "HDFS-7")
	require.ErrorIs(t, err, boom)
}

func TestIssueKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A-1", IssueKey(json.RawMessage(`{"key":"A-1","fields":{}}`)))
	assert.Equal(t, "", IssueKey(json.RawMessage(`{"id":"10001"}`)))
	assert.Equal(t, "", IssueKey(json.RawMessage(`not json`)))
	assert.Equal(t, "", IssueKey(json.RawMessage(`{"key":42}`)))
}

func TestIssueDecodesNullableFields(t *testing.T) {
	t.Parallel()

	var issue Issue
	err := json.Unmarshal([]byte(`{
		"key": "HDFS-1",
		"fields": {
			"summary": "NameNode crash",
			"description": {"type":"doc","content":[]},
			"project": {"key":"HDFS"},
			"reporter": {"displayName":"Ann"},
			"assignee": null,
			"status": {"name":"Open"},
			"labels": ["namenode"],
			"created": "2020-01-01T00:00:00.000+0000"
		}
	}`), &issue)
	require.NoError(t, err)
	assert.Equal(t, "HDFS", issue.Fields.Project.Key)
	assert.Nil(t, issue.Fields.Assignee)
	assert.Nil(t, issue.Fields.Priority)
	assert.Nil(t, issue.Fields.Updated)
	require.NotNil(t, issue.Fields.Created)
	assert.Equal(t, []string{"namenode"}, issue.Fields.Labels)
}
