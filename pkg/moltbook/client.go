package moltbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/moltagent/moltagent/pkg/logger"
)

const maxRetryAfter = 30 * time.Second

// TransportError marks failures of the transport itself (network errors,
// 5xx, malformed bodies). Callers skip the current step and continue the
// cycle; it is distinct from an APIError business rejection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("moltbook transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-retryable rejection from the platform (4xx).
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("moltbook api: %s: status %d: %s", e.Op, e.Status, e.Message)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetAPIKey installs the credential obtained from Register.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp)
		logger.WarnCF("moltbook", "Rate limited by platform, backing off", map[string]interface{}{
			"op":    op,
			"delay": wait.String(),
		})
		io.Copy(io.Discard, resp.Body)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &TransportError{Op: op, Err: ctx.Err()}
		}
		return c.doOnce(ctx, method, path, body, out)
	}

	return decodeResponse(op, resp, out)
}

// doOnce is the single retry after a 429; a second 429 is surfaced as an
// APIError rather than looping.
func (c *Client) doOnce(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	return decodeResponse(op, resp, out)
}

func decodeResponse(op string, resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500:
		return &TransportError{Op: op, Err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncateBody(data))}
	case resp.StatusCode >= 400:
		msg := truncateBody(data)
		var apiBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiBody) == nil {
			if apiBody.Error != "" {
				msg = apiBody.Error
			} else if apiBody.Message != "" {
				msg = apiBody.Message
			}
		}
		return &APIError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			if d > maxRetryAfter {
				return maxRetryAfter
			}
			return d
		}
	}
	return 5 * time.Second
}

func truncateBody(data []byte) string {
	const max = 200
	s := string(data)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func (c *Client) Register(ctx context.Context, name, description string) (RegisterResult, error) {
	var out RegisterResult
	err := c.do(ctx, http.MethodPost, "/agents/register",
		map[string]string{"name": name, "description": description}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodGet, "/agents/me", nil, &out)
	return out, err
}

func (c *Client) Feed(ctx context.Context, sort string, limit int) ([]Post, error) {
	var out struct {
		Posts []Post `json:"posts"`
	}
	path := fmt.Sprintf("/feed?sort=%s&limit=%d", url.QueryEscape(sort), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (c *Client) Comments(ctx context.Context, postID string) ([]Comment, error) {
	var out struct {
		Comments []Comment `json:"comments"`
	}
	path := fmt.Sprintf("/posts/%s/comments?sort=old", url.PathEscape(postID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

func (c *Client) CreatePost(ctx context.Context, submolt, title, content string) (Post, error) {
	var out Post
	err := c.do(ctx, http.MethodPost, "/posts",
		map[string]string{"submolt": submolt, "title": title, "content": content}, &out)
	return out, err
}

func (c *Client) CreateComment(ctx context.Context, postID, parentID, content string) (Comment, error) {
	body := map[string]string{"content": content}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var out Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/posts/%s/comments", url.PathEscape(postID)), body, &out)
	return out, err
}

func (c *Client) UpvotePost(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/posts/%s/upvote", url.PathEscape(postID)), nil, nil)
}

func (c *Client) UpvoteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/comments/%s/upvote", url.PathEscape(commentID)), nil, nil)
}

func (c *Client) Search(ctx context.Context, query string) (SearchResult, error) {
	var out SearchResult
	err := c.do(ctx, http.MethodGet, "/search?q="+url.QueryEscape(query), nil, &out)
	return out, err
}

func (c *Client) AgentPosts(ctx context.Context, agentName string, limit int) ([]Post, error) {
	var out struct {
		Posts []Post `json:"posts"`
	}
	path := fmt.Sprintf("/agents/%s/posts?limit=%d", url.PathEscape(agentName), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// DMCheck is the lightweight probe issued before any other DM traffic.
func (c *Client) DMCheck(ctx context.Context) (DMActivity, error) {
	var out DMActivity
	err := c.do(ctx, http.MethodGet, "/dm/check", nil, &out)
	return out, err
}

func (c *Client) DMRequests(ctx context.Context) ([]DMRequest, error) {
	var out struct {
		Requests []DMRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, "/dm/requests", nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *Client) DMApprove(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/dm/requests/%s/approve", url.PathEscape(conversationID)), nil, nil)
}

func (c *Client) DMConversations(ctx context.Context) ([]DMConversationSummary, error) {
	var out struct {
		Conversations []DMConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/dm/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) DMMessages(ctx context.Context, conversationID string) ([]DMMessage, error) {
	var out struct {
		Messages []DMMessage `json:"messages"`
	}
	path := fmt.Sprintf("/dm/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) DMSend(ctx context.Context, conversationID, content string) (DMMessage, error) {
	var out DMMessage
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/dm/conversations/%s/messages", url.PathEscape(conversationID)),
		map[string]string{"content": content}, &out)
	return out, err
}
