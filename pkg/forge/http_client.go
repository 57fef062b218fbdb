package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient implements Client against a GitHub-compatible REST API.
// It follows the same bearer-token-plus-json.Decode idiom the LLM
// router's OpenAI client uses: build request, set auth header, decode
// response into a narrow internal shape.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a Client scoped to one already-minted
// installation token. Construct it only via
// repoaccess.WithAuthenticatedClient — never hold a long-lived token
// in application code.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("forge: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.forge.v3+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forge: request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("forge: %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type prResponse struct {
	Number      int        `json:"number"`
	HTMLURL     string     `json:"html_url"`
	State       string     `json:"state"`
	Merged      bool       `json:"merged"`
	MergedAt    *time.Time `json:"merged_at"`
	Head        struct{ Ref string `json:"ref"` } `json:"head"`
	Base        struct{ Ref string `json:"ref"` } `json:"base"`
	Labels      []struct{ Name string `json:"name"` } `json:"labels"`
	ProjectCard struct{ Column string `json:"column_name"` } `json:"project_card"`
}

func (c *HTTPClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var resp prResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), &resp); err != nil {
		return nil, err
	}
	pr := &PullRequest{
		Number: resp.Number, URL: resp.HTMLURL, State: resp.State,
		Merged: resp.Merged, MergedAt: resp.MergedAt,
		HeadBranch: resp.Head.Ref, BaseBranch: resp.Base.Ref,
		ProjectStatus: resp.ProjectCard.Column,
	}
	for _, l := range resp.Labels {
		pr.Labels = append(pr.Labels, l.Name)
	}
	return pr, nil
}

func (c *HTTPClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	var resp []struct {
		ID    int64  `json:"id"`
		State string `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number), &resp); err != nil {
		return nil, err
	}
	out := make([]Review, 0, len(resp))
	for _, r := range resp {
		out = append(out, Review{ID: fmt.Sprintf("%d", r.ID), State: r.State})
	}
	return out, nil
}

func (c *HTTPClient) ListCheckRuns(ctx context.Context, owner, repo string, number int) ([]CheckRun, error) {
	var resp struct {
		CheckRuns []struct {
			Name       string `json:"name"`
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/commits/pull/%d/check-runs", owner, repo, number), &resp); err != nil {
		return nil, err
	}
	out := make([]CheckRun, 0, len(resp.CheckRuns))
	for _, r := range resp.CheckRuns {
		out = append(out, CheckRun{Name: r.Name, Status: r.Status, Conclusion: r.Conclusion})
	}
	return out, nil
}

func (c *HTTPClient) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var resp struct {
		Number int    `json:"number"`
		State  string `json:"state"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), &resp); err != nil {
		return nil, err
	}
	issue := &Issue{Number: resp.Number, State: resp.State}
	for _, l := range resp.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue, nil
}

func (c *HTTPClient) ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	issue, err := c.GetIssue(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	return issue.Labels, nil
}

func (c *HTTPClient) ApplyLabelDelta(ctx context.Context, owner, repo string, number int, add, remove []string) error {
	for _, label := range add {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", owner, repo, number, label)
		if err := c.do(ctx, http.MethodPut, path, nil); err != nil {
			return err
		}
	}
	for _, label := range remove {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", owner, repo, number, label)
		if err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
			return err
		}
	}
	return nil
}
