package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/issue-harvester/internal/jira"
	"github.com/JakeFAU/issue-harvester/internal/rawstore"
)

// Record is one line of clean_<project>.jsonl.
type Record struct {
	IssueKey    string    `json:"issue_key"`
	Title       string    `json:"title"`
	Project     *string   `json:"project"`
	Reporter    *string   `json:"reporter"`
	Assignee    *string   `json:"assignee"`
	Status      *string   `json:"status"`
	Priority    *string   `json:"priority"`
	Labels      []string  `json:"labels"`
	Created     *string   `json:"created"`
	Updated     *string   `json:"updated"`
	Description string    `json:"description"`
	Comments    []Comment `json:"comments"`
	Derived     Derived   `json:"derived"`
}

// Comment is a flattened comment.
type Comment struct {
	Author  *string `json:"author"`
	Created *string `json:"created"`
	Body    string  `json:"body"`
}

// Derived holds fields computed from the text. Classification is reserved
// for downstream labelling and always null here.
type Derived struct {
	Summary        string  `json:"summary"`
	Classification *string `json:"classification"`
	QnASeeds       []QnA   `json:"qna_seeds"`
}

// Build flattens a raw record. It fails only when the issue is not a JSON
// object.
func Build(raw rawstore.Record) (Record, error) {
	var issue jira.Issue
	if err := json.Unmarshal(raw.Issue, &issue); err != nil {
		return Record{}, fmt.Errorf("decode issue: %w", err)
	}
	f := issue.Fields

	rec := Record{
		IssueKey:    issue.Key,
		Title:       f.Summary,
		Labels:      f.Labels,
		Created:     f.Created,
		Updated:     f.Updated,
		Description: ExtractPlainText(f.Description),
		Comments:    make([]Comment, 0, len(raw.Comments)),
	}
	if rec.Labels == nil {
		rec.Labels = []string{}
	}
	if f.Project != nil {
		rec.Project = nonEmpty(f.Project.Key)
	}
	rec.Reporter = displayName(f.Reporter)
	rec.Assignee = displayName(f.Assignee)
	if f.Status != nil {
		rec.Status = nonEmpty(f.Status.Name)
	}
	if f.Priority != nil {
		rec.Priority = nonEmpty(f.Priority.Name)
	}

	bodies := make([]string, 0, len(raw.Comments))
	for _, rc := range raw.Comments {
		c := buildComment(rc)
		rec.Comments = append(rec.Comments, c)
		bodies = append(bodies, c.Body)
	}

	rec.Derived = Derived{
		Summary:  Summary(rec.Description+"\n\n"+strings.Join(bodies, " "), SummaryMaxChars),
		QnASeeds: QnASeeds(rec.Description, rec.Comments),
	}
	return rec, nil
}

func buildComment(raw json.RawMessage) Comment {
	var c jira.Comment
	if err := json.Unmarshal(raw, &c); err != nil {
		return Comment{}
	}
	out := Comment{Author: displayName(c.Author), Created: c.Created}
	switch {
	case present(c.Body):
		out.Body = ExtractPlainText(c.Body)
	case present(c.RenderedBody):
		out.Body = ExtractPlainText(c.RenderedBody)
		if looksLikeHTML(out.Body) {
			out.Body = StripHTML(out.Body)
		}
	}
	return out
}

// present reports whether v is a non-empty JSON value: not null, "", {} or [].
func present(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	switch string(v) {
	case "", "null", `""`, "{}", "[]":
		return false
	}
	return true
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, ">")
}

func displayName(u *jira.User) *string {
	if u == nil {
		return nil
	}
	return nonEmpty(u.DisplayName)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
