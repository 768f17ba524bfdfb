package jira

import "encoding/json"

// Issue is the typed view of the fields the transform stage reads.
type Issue struct {
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// Fields holds the requested issue fields. Description may be a plain string
// or an Atlassian Document Format tree, so it is kept raw.
type Fields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	Project     *Project        `json:"project"`
	Reporter    *User           `json:"reporter"`
	Assignee    *User           `json:"assignee"`
	Status      *Named          `json:"status"`
	Priority    *Named          `json:"priority"`
	Labels      []string        `json:"labels"`
	Created     *string         `json:"created"`
	Updated     *string         `json:"updated"`
}

// Project identifies the owning project.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// User is a reporter, assignee or comment author.
type User struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Named covers status and priority objects.
type Named struct {
	Name string `json:"name"`
}

// Comment is one entry of a comment thread.
type Comment struct {
	Author       *User           `json:"author"`
	Created      *string         `json:"created"`
	Body         json.RawMessage `json:"body"`
	RenderedBody json.RawMessage `json:"renderedBody"`
}
