// Package notion is a thin client for the Notion API as used by the client database:
// query pages by title, read a page's Status, patch client properties and list the
// user directory.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultAPIVersion is the Notion-Version header sent when none is configured.
const DefaultAPIVersion = "2022-06-28"

// Client is a wrapper for making authenticated calls to the Notion API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	databaseID string
	log        *slog.Logger
}

// NewClient returns a Notion client for the given integration key and database.
func NewClient(ctx context.Context, baseURL, apiVersion, key, databaseID string, logger *slog.Logger) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"})
	return &Client{
		httpClient: oauth2.NewClient(ctx, ts),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		databaseID: databaseID,
		log:        logger,
	}
}

// QueryByTitle returns the ids of the database pages whose title property equals
// value, in the order returned by Notion.
func (c *Client) QueryByTitle(ctx context.Context, property, value string) ([]string, error) {

	body, err := json.Marshal(queryRequest{
		Filter: queryFilter{Property: property, Title: titleFilter{Equals: value}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	requestURL := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, url.PathEscape(c.databaseID))
	c.log.Debug(fmt.Sprintf("QueryByTitle: url %s %s=%q", requestURL, property, value))

	req, err := c.newRequest(ctx, http.MethodPost, requestURL, body)
	if err != nil {
		return nil, err
	}
	var response queryResponse
	if err := c.do(req, &response); err != nil {
		c.log.Error(fmt.Sprintf("QueryByTitle: %q: %v", value, err))
		return nil, fmt.Errorf("query %s=%q: %w", property, value, err)
	}
	ids := make([]string, 0, len(response.Results))
	for _, r := range response.Results {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// GetPageStatus reads the Status property of a page, resolving which of its two
// encodings is in use.
func (c *Client) GetPageStatus(ctx context.Context, pageID string) (Status, error) {

	if strings.TrimSpace(pageID) == "" {
		return Status{}, errors.New("notion page status: empty page id")
	}
	requestURL := fmt.Sprintf("%s/v1/pages/%s", c.baseURL, url.PathEscape(pageID))
	c.log.Debug(fmt.Sprintf("GetPageStatus: url %s", requestURL))

	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return Status{}, err
	}
	var p page
	if err := c.do(req, &p); err != nil {
		c.log.Error(fmt.Sprintf("GetPageStatus: page %s: %v", pageID, err))
		return Status{}, fmt.Errorf("get page %s: %w", pageID, err)
	}
	return statusFrom(p.Properties[PropStatus]), nil
}

// statusFrom resolves a Status property value. An empty multi_select is absent.
func statusFrom(pv propertyValue) Status {
	switch pv.Type {
	case "multi_select":
		var names []string
		for _, o := range pv.MultiSelect {
			names = append(names, o.Name)
		}
		if len(names) == 0 {
			return Status{}
		}
		return Status{Kind: StatusMulti, Values: names}
	case "status":
		if pv.Status == nil || pv.Status.Name == "" {
			return Status{}
		}
		return Status{Kind: StatusSingle, Values: []string{pv.Status.Name}}
	}
	return Status{}
}

// PatchProperties writes the non-empty fields of u to the page. An update with no
// non-empty fields makes no request.
func (c *Client) PatchProperties(ctx context.Context, pageID string, u PageUpdate) error {

	if strings.TrimSpace(pageID) == "" {
		return errors.New("notion patch: empty page id")
	}
	props := u.Properties()
	if len(props) == 0 {
		c.log.Debug(fmt.Sprintf("PatchProperties: no fields to update for page %s", pageID))
		return nil
	}
	body, err := json.Marshal(patchRequest{Properties: props})
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	requestURL := fmt.Sprintf("%s/v1/pages/%s", c.baseURL, url.PathEscape(pageID))
	c.log.Debug(fmt.Sprintf("PatchProperties: url %s", requestURL))

	req, err := c.newRequest(ctx, http.MethodPatch, requestURL, body)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		c.log.Error(fmt.Sprintf("PatchProperties: page %s: %v", pageID, err))
		return fmt.Errorf("patch page %s: %w", pageID, err)
	}
	return nil
}

// ListUsers returns the workspace user directory, following pagination.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {

	var users []User
	cursor := ""
	for pageNo := 1; ; pageNo++ {
		requestURL := c.baseURL + "/v1/users"
		if cursor != "" {
			requestURL += "?start_cursor=" + url.QueryEscape(cursor)
		}
		c.log.Debug(fmt.Sprintf("ListUsers: page %d: url %s", pageNo, requestURL))

		req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		var response usersResponse
		if err := c.do(req, &response); err != nil {
			c.log.Error(fmt.Sprintf("ListUsers: page %d: %v", pageNo, err))
			return nil, fmt.Errorf("list users page %d: %w", pageNo, err)
		}
		users = append(users, response.Results...)
		if !response.HasMore || response.NextCursor == "" {
			break
		}
		cursor = response.NextCursor
	}
	return users, nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", c.apiVersion)
	return req, nil
}

// do executes the request and decodes the JSON response into v if v is not nil.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp.StatusCode, body)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
