package notion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Property names of the client database.
const (
	PropClientName     = "Client Name"
	PropStatus         = "Status"
	PropPM             = "PM"
	PropPA             = "PA"
	PropHealth         = "Health"
	PropTier           = "Tier"
	PropAccountManager = "Account Manager"
	PropTierReasoning  = "Tier Reasoning"
)

// StatusKind distinguishes the two encodings of the Status property.
type StatusKind int

const (
	// StatusAbsent means the page has no usable Status value.
	StatusAbsent StatusKind = iota
	// StatusMulti is a multi_select property holding zero or more options.
	StatusMulti
	// StatusSingle is a status property holding one option.
	StatusSingle
)

// Status is a page's Status property resolved to one of its encodings.
type Status struct {
	Kind   StatusKind
	Values []string
}

// String flattens the status: multiple options are joined with ", ".
func (s Status) String() string {
	switch s.Kind {
	case StatusMulti:
		return strings.Join(s.Values, ", ")
	case StatusSingle:
		if len(s.Values) > 0 {
			return s.Values[0]
		}
	}
	return ""
}

// User is a workspace directory user.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// PageUpdate holds the client properties written to a page. Empty fields are not
// sent, so an update never clears a property by omission.
type PageUpdate struct {
	PMUserIDs      []string
	PA             string
	Health         string
	Tier           string
	Status         string
	AccountManager string
	TierReasoning  string
}

type option struct {
	Name string `json:"name"`
}

type personRef struct {
	ID string `json:"id"`
}

type textContent struct {
	Content string `json:"content"`
}

type richText struct {
	Text textContent `json:"text"`
}

// Properties renders the update as Notion property values, leaving out empty fields.
func (u PageUpdate) Properties() map[string]any {
	props := map[string]any{}
	var people []personRef
	for _, id := range u.PMUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			people = append(people, personRef{ID: id})
		}
	}
	if len(people) > 0 {
		props[PropPM] = map[string]any{"people": people}
	}
	if u.PA != "" {
		props[PropPA] = map[string]any{"multi_select": []option{{Name: u.PA}}}
	}
	if u.Health != "" {
		props[PropHealth] = map[string]any{"select": option{Name: u.Health}}
	}
	if u.Tier != "" {
		props[PropTier] = map[string]any{"select": option{Name: u.Tier}}
	}
	if u.Status != "" {
		props[PropStatus] = map[string]any{"multi_select": []option{{Name: u.Status}}}
	}
	if u.AccountManager != "" {
		props[PropAccountManager] = map[string]any{"select": option{Name: u.AccountManager}}
	}
	if u.TierReasoning != "" {
		props[PropTierReasoning] = map[string]any{"rich_text": []richText{{Text: textContent{Content: u.TierReasoning}}}}
	}
	return props
}

type titleFilter struct {
	Equals string `json:"equals"`
}

type queryFilter struct {
	Property string      `json:"property"`
	Title    titleFilter `json:"title"`
}

type queryRequest struct {
	Filter queryFilter `json:"filter"`
}

type pageRef struct {
	ID string `json:"id"`
}

type queryResponse struct {
	Results []pageRef `json:"results"`
}

// propertyValue covers the property shapes the client reads.
type propertyValue struct {
	Type        string   `json:"type"`
	MultiSelect []option `json:"multi_select"`
	Status      *option  `json:"status"`
}

type page struct {
	ID         string                   `json:"id"`
	Properties map[string]propertyValue `json:"properties"`
}

type patchRequest struct {
	Properties map[string]any `json:"properties"`
}

type usersResponse struct {
	Results    []User `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// errorBody is the error object returned by Notion.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is a non-success response from Notion.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion API error (status %d) %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion API error (status %d): %s", e.StatusCode, e.Message)
}

// newAPIError parses the Notion error object from body, falling back to the raw text.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		e.Code = eb.Code
		if strings.TrimSpace(eb.Message) != "" {
			e.Message = eb.Message
		}
	}
	return e
}
