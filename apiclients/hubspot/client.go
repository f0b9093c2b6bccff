// Package hubspot is a thin client for the HubSpot CRM contacts API: fetch a
// contact's sync properties, update properties and search contacts by first name.
package hubspot

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

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
)

// contactsPath is the contacts object endpoint, relative to the base url.
const contactsPath = "/crm/v3/objects/contacts"

// searchLimit is the maximum number of candidates returned by a name search.
const searchLimit = 10

// Client is a wrapper for making authenticated calls to the HubSpot API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewClient returns a HubSpot client authenticating with the static private app token.
func NewClient(ctx context.Context, baseURL, token string, logger *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Client{
		httpClient: oauth2.NewClient(ctx, ts),
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger,
	}
}

// Fetch returns the sync properties of the contact with the given id.
func (c *Client) Fetch(ctx context.Context, contactID string) (Contact, error) {

	if strings.TrimSpace(contactID) == "" {
		return Contact{}, errors.New("hubspot fetch: empty contact id")
	}

	v, err := query.Values(fetchOptions{Properties: ContactPropertyNames})
	if err != nil {
		return Contact{}, fmt.Errorf("query encoding error: %w", err)
	}
	requestURL := fmt.Sprintf("%s%s/%s?%s", c.baseURL, contactsPath, url.PathEscape(contactID), v.Encode())
	c.log.Debug(fmt.Sprintf("Fetch: url %s", requestURL))

	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return Contact{}, err
	}
	var contact Contact
	if err := c.do(req, &contact); err != nil {
		c.log.Error(fmt.Sprintf("Fetch: contact %s: %v", contactID, err))
		return Contact{}, fmt.Errorf("fetch contact %s: %w", contactID, err)
	}
	return contact, nil
}

// Update writes the given properties to the contact. HubSpot answers a successful
// update with 200; any other status is an *APIError.
func (c *Client) Update(ctx context.Context, contactID string, fields map[string]string) error {

	if strings.TrimSpace(contactID) == "" {
		return errors.New("hubspot update: empty contact id")
	}

	body, err := json.Marshal(updateRequest{Properties: fields})
	if err != nil {
		return fmt.Errorf("failed to marshal update request: %w", err)
	}
	requestURL := fmt.Sprintf("%s%s/%s", c.baseURL, contactsPath, url.PathEscape(contactID))
	c.log.Debug(fmt.Sprintf("Update: url %s", requestURL))

	req, err := c.newRequest(ctx, http.MethodPatch, requestURL, body)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		c.log.Error(fmt.Sprintf("Update: contact %s: %v", contactID, err))
		return fmt.Errorf("update contact %s: %w", contactID, err)
	}
	return nil
}

// SearchByFirstNameToken returns up to ten contacts whose first name contains token.
// Choosing among the candidates is left to the caller.
func (c *Client) SearchByFirstNameToken(ctx context.Context, token string) ([]Contact, error) {

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	payload := searchRequest{
		FilterGroups: []searchFilterGroup{{
			Filters: []searchFilter{{
				PropertyName: "firstname",
				Operator:     "CONTAINS_TOKEN",
				Value:        token,
			}},
		}},
		Properties: ContactPropertyNames,
		Limit:      searchLimit,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}
	requestURL := c.baseURL + contactsPath + "/search"
	c.log.Debug(fmt.Sprintf("SearchByFirstNameToken: url %s token %q", requestURL, token))

	req, err := c.newRequest(ctx, http.MethodPost, requestURL, body)
	if err != nil {
		return nil, err
	}
	var response searchResponse
	if err := c.do(req, &response); err != nil {
		c.log.Error(fmt.Sprintf("SearchByFirstNameToken: %q: %v", token, err))
		return nil, fmt.Errorf("search contacts %q: %w", token, err)
	}
	return response.Results, nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes the request and decodes the JSON response into v if v is not nil. Only
// status 200 counts as success.
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
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
