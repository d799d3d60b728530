package readerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedsync/internal/domain/entity"
	"feedsync/internal/provider"
	"feedsync/internal/resilience/circuitbreaker"
	"feedsync/internal/resilience/retry"
)

const (
	// maxBodySize caps response bodies (50MB).
	maxBodySize = 50 << 20

	userAgent = "feedsync/1.0"

	// badTokenHeader is set on 401 responses caused by a stale write token.
	badTokenHeader = "X-Reader-Google-Bad-Token"
)

var errBadWriteToken = errors.New("write token rejected")

// Client talks to one Google-Reader-compatible endpoint. Every request goes
// through the account's rate limiter and circuit breaker.
type Client struct {
	baseURL     string
	accountID   string
	httpClient  *http.Client
	credentials provider.CredentialStore
	limiter     *rate.Limiter
	breaker     *circuitbreaker.CircuitBreaker

	mu         sync.Mutex
	authToken  string
	writeToken string
}

func newClient(cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.Endpoint, "/"),
		accountID:   cfg.AccountID,
		httpClient:  cfg.HTTPClient,
		credentials: cfg.Credentials,
		limiter:     rate.NewLimiter(limit, 1),
		breaker:     circuitbreaker.New(circuitbreaker.SyncServiceConfig(cfg.AccountID)),
	}
}

// TagList returns every tag, folders and states alike.
func (c *Client) TagList(ctx context.Context) ([]tag, error) {
	var resp tagListResponse
	q := url.Values{"output": {"json"}}
	if err := c.get(ctx, "TagList", pathTagList, q, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// SubscriptionList returns every subscription.
func (c *Client) SubscriptionList(ctx context.Context) ([]subscription, error) {
	var resp subscriptionListResponse
	q := url.Values{"output": {"json"}}
	if err := c.get(ctx, "SubscriptionList", pathSubscriptionList, q, &resp); err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

// itemIDsQuery selects a stream for stream/items/ids.
type itemIDsQuery struct {
	Stream  string
	Exclude string
	Since   int64
}

// ItemIDs returns one page of item IDs and the continuation for the next.
func (c *Client) ItemIDs(ctx context.Context, q itemIDsQuery, continuation string) ([]string, string, error) {
	params := url.Values{
		"n":      {"1000"},
		"output": {"json"},
		"s":      {q.Stream},
	}
	if q.Exclude != "" {
		params.Set("xt", q.Exclude)
	}
	if q.Since > 0 {
		params.Set("ot", strconv.FormatInt(q.Since, 10))
	}
	if continuation != "" {
		params.Set("c", continuation)
	}

	var resp itemIDsResponse
	if err := c.get(ctx, "ItemIDs", pathItemIDs, params, &resp); err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(resp.ItemRefs))
	for _, ref := range resp.ItemRefs {
		ids = append(ids, ref.ID)
	}
	return ids, resp.Continuation, nil
}

// AllItemIDs follows continuations until the stream is exhausted.
func (c *Client) AllItemIDs(ctx context.Context, q itemIDsQuery) ([]string, error) {
	var all []string
	seen := make(map[string]bool)
	continuation := ""
	for {
		ids, next, err := c.ItemIDs(ctx, q, continuation)
		if err != nil {
			return nil, err
		}
		all = append(all, ids...)
		if next == "" || seen[next] {
			return all, nil
		}
		seen[next] = true
		continuation = next
	}
}

// StreamContents downloads the given long-form items.
func (c *Client) StreamContents(ctx context.Context, itemIDs []string) ([]json.RawMessage, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	form := url.Values{"output": {"json"}}
	for _, id := range itemIDs {
		form.Add("i", id)
	}
	var resp streamContentsResponse
	if err := c.post(ctx, "StreamContents", pathContents, form, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// EditTag adds (add=true) or removes state on the given long item IDs.
func (c *Client) EditTag(ctx context.Context, itemIDs []string, state string, add bool) error {
	form := url.Values{}
	for _, id := range itemIDs {
		form.Add("i", id)
	}
	if add {
		form.Set("a", state)
	} else {
		form.Set("r", state)
	}
	return c.post(ctx, "EditTag", pathEditTag, form, nil)
}

// RenameTag renames a folder label.
func (c *Client) RenameTag(ctx context.Context, oldID, newID string) error {
	form := url.Values{"s": {oldID}, "dest": {newID}}
	return c.post(ctx, "RenameTag", pathRenameTag, form, nil)
}

// DisableTag deletes a folder label.
func (c *Client) DisableTag(ctx context.Context, id string) error {
	form := url.Values{"s": {id}}
	return c.post(ctx, "DisableTag", pathDisableTag, form, nil)
}

// EditSubscription changes a subscription's labels or title. Empty
// arguments are left out.
func (c *Client) EditSubscription(ctx context.Context, streamID, removeLabel, addLabel, title string) error {
	form := url.Values{"ac": {"edit"}, "s": {streamID}}
	if removeLabel != "" {
		form.Set("r", removeLabel)
	}
	if addLabel != "" {
		form.Set("a", addLabel)
	}
	if title != "" {
		form.Set("t", title)
	}
	return c.post(ctx, "EditSubscription", pathSubscriptionEdit, form, nil)
}

// QuickAdd subscribes to feedURL.
func (c *Client) QuickAdd(ctx context.Context, feedURL string) (*quickAddResponse, error) {
	form := url.Values{"quickadd": {feedURL}}
	var resp quickAddResponse
	if err := c.post(ctx, "QuickAdd", pathQuickAdd, form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

/* ───────────── transport ───────────── */

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	auth, err := c.auth(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, op, http.MethodGet, path+"?"+query.Encode(), nil, auth, out)
}

// post sends a form carrying the write token. A stale token is refreshed
// once.
func (c *Client) post(ctx context.Context, op, path string, form url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		auth, err := c.auth(ctx)
		if err != nil {
			return err
		}
		token, err := c.token(ctx, auth)
		if err != nil {
			return err
		}
		body := cloneValues(form)
		body.Set("T", token)

		err = c.send(ctx, op, http.MethodPost, path, body, auth, out)
		if errors.Is(err, errBadWriteToken) {
			c.mu.Lock()
			c.writeToken = ""
			c.mu.Unlock()
			if attempt == 0 {
				continue
			}
			return &entity.AuthError{AccountID: c.accountID, Err: err}
		}
		return err
	}
}

// auth returns the GoogleLogin token, logging in with username and
// password when the credential store holds no token.
func (c *Client) auth(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.authToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	creds, err := c.credentials.Credentials(ctx, c.accountID)
	if err != nil {
		return "", &entity.AuthError{AccountID: c.accountID, Err: err}
	}
	token := creds.Token
	if token == "" {
		token, err = c.clientLogin(ctx, creds)
		if err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) clientLogin(ctx context.Context, creds provider.Credentials) (string, error) {
	form := url.Values{"Email": {creds.Username}, "Passwd": {creds.Password}}
	var body string
	if err := c.send(ctx, "ClientLogin", http.MethodPost, pathLogin, form, "", &body); err != nil {
		return "", err
	}
	for _, line := range strings.Split(body, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Auth="); ok && v != "" {
			return v, nil
		}
	}
	return "", &entity.AuthError{AccountID: c.accountID, Err: errors.New("ClientLogin: no Auth token in response")}
}

// token returns the write token (the T parameter of every POST).
func (c *Client) token(ctx context.Context, auth string) (string, error) {
	c.mu.Lock()
	cached := c.writeToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var body string
	if err := c.send(ctx, "Token", http.MethodGet, pathToken, nil, auth, &body); err != nil {
		return "", err
	}
	token := strings.TrimSpace(body)

	c.mu.Lock()
	c.writeToken = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) resetTokens() {
	c.mu.Lock()
	c.authToken = ""
	c.writeToken = ""
	c.mu.Unlock()
}

// send performs one request. out may be nil, a *string for plain text, or a
// JSON target.
func (c *Client) send(ctx context.Context, op, method, pathAndQuery string, form url.Values, auth string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, pathAndQuery, form, auth, out)
	})

	switch {
	case err == nil:
		return nil
	case circuitbreaker.IsRejected(err):
		slog.Warn("sync service circuit breaker open, request rejected",
			slog.String("account_id", c.accountID),
			slog.String("op", op),
			slog.String("state", c.breaker.State().String()))
		return fmt.Errorf("%s: %w", op, err)
	case entity.IsAuthFailure(err):
		c.resetTokens()
		return err
	default:
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, op, method, pathAndQuery string, form url.Values, auth string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, body)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth != "" {
		req.Header.Set("Authorization", "GoogleLogin auth="+auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return &entity.RetryableError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &entity.RetryableError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if err := c.statusError(op, resp, data); err != nil {
		return err
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *string:
		*v = string(data)
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}
}

// statusError classifies a non-2xx response.
func (c *Client) statusError(op string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	httpErr := &retry.HTTPError{
		StatusCode: code,
		Message:    snippet(body),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	switch {
	case code == http.StatusUnauthorized && resp.Header.Get(badTokenHeader) == "true":
		return fmt.Errorf("%s: %w: %w", op, errBadWriteToken, httpErr)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return &entity.AuthError{AccountID: c.accountID, Err: fmt.Errorf("%s: %w", op, httpErr)}
	case retry.IsRetryable(httpErr):
		return &entity.RetryableError{Op: op, Err: httpErr}
	default:
		return fmt.Errorf("%s: %w", op, httpErr)
	}
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
