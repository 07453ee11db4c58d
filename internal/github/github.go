package github

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Branch string `json:"headRefName"`
	URL    string `json:"url"`
}

// Client wraps the gh CLI operations the forwarder needs.
type Client interface {
	PostIssueComment(repo string, number int, body string) error
	PRForBranch(repo, branch string) (*PullRequest, error)
}

// CLIClient implements Client using the gh CLI.
type CLIClient struct{}

// NewCLIClient returns a new CLIClient.
func NewCLIClient() *CLIClient {
	return &CLIClient{}
}

func ghCmd(args ...string) (string, error) {
	out, err := exec.Command("gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *CLIClient) PostIssueComment(repo string, number int, body string) error {
	_, err := ghCmd("issue", "comment", strconv.Itoa(number),
		"--repo", repo,
		"--body", body,
	)
	return err
}

func (c *CLIClient) PRForBranch(repo, branch string) (*PullRequest, error) {
	out, err := ghCmd("pr", "list",
		"--repo", repo,
		"--head", branch,
		"--state", "open",
		"--json", "number,title,state,headRefName,url",
		"--limit", "1",
	)
	if err != nil {
		return nil, err
	}

	var prs []PullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PRs: %w", err)
	}
	if len(prs) == 0 {
		return nil, fmt.Errorf("no open PR for branch %s", branch)
	}
	return &prs[0], nil
}

var (
	issueURLRe   = regexp.MustCompile(`github\.com/([\w.-]+/[\w.-]+)/(?:issues|pull)/(\d+)`)
	issueShortRe = regexp.MustCompile(`([\w.-]+/[\w.-]+)#(\d+)`)
	branchNumRe  = regexp.MustCompile(`(?:^|[/-])(?:issue|fix|gh)-?(\d+)(?:[/-]|$)`)
)

// ParseIssueRef extracts a repo and issue/PR number from free text.
// Recognizes full URLs (github.com/owner/repo/issues/123) and short refs
// (owner/repo#123).
func ParseIssueRef(text string) (repo string, number int, ok bool) {
	if m := issueURLRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return m[1], n, true
		}
	}
	if m := issueShortRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return m[1], n, true
		}
	}
	return "", 0, false
}

// BranchIssueNumber extracts an issue number from branch names like
// fix-123, issue-45, or feature/gh-7-cleanup.
func BranchIssueNumber(branch string) (int, bool) {
	m := branchNumRe.FindStringSubmatch(strings.ToLower(branch))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
