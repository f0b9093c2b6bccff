package hubspot

import (
	"fmt"
	"strings"
)

// ContactPropertyNames are the contact properties requested on every fetch and search.
var ContactPropertyNames = []string{
	"firstname",
	"lastname",
	"product_manager",
	"pa",
	"client_health",
	"account_prioritisation",
	"client_status",
	"hubspot_owner_id",
	"account_manager",
	"reason_for_account_prioritisation",
	"hs_content_membership_status",
}

// ContactProperties are the contact fields used by the sync. HubSpot reports unset
// properties as null, which decode to the empty string.
type ContactProperties struct {
	FirstName                      string `json:"firstname"`
	LastName                       string `json:"lastname"`
	ProductManager                 string `json:"product_manager"`
	PA                             string `json:"pa"`
	ClientHealth                   string `json:"client_health"`
	AccountPrioritisation          string `json:"account_prioritisation"`
	ClientStatus                   string `json:"client_status"`
	HubSpotOwnerID                 string `json:"hubspot_owner_id"`
	AccountManager                 string `json:"account_manager"`
	ReasonForAccountPrioritisation string `json:"reason_for_account_prioritisation"`
	MembershipStatus               string `json:"hs_content_membership_status"`
}

// Contact is a HubSpot contact object.
type Contact struct {
	ID         string            `json:"id"`
	Properties ContactProperties `json:"properties"`
}

// FullName is the contact's "first last" name, trimmed.
func (c Contact) FullName() string {
	return strings.TrimSpace(
		strings.TrimSpace(c.Properties.FirstName) + " " + strings.TrimSpace(c.Properties.LastName),
	)
}

// fetchOptions are the query parameters of a contact fetch.
type fetchOptions struct {
	Properties []string `url:"properties,comma"`
}

// updateRequest is the body of a contact PATCH.
type updateRequest struct {
	Properties map[string]string `json:"properties"`
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchFilterGroup struct {
	Filters []searchFilter `json:"filters"`
}

// searchRequest is the body of a contact search.
type searchRequest struct {
	FilterGroups []searchFilterGroup `json:"filterGroups"`
	Properties   []string            `json:"properties"`
	Limit        int                 `json:"limit"`
}

// searchResponse is the body returned by a contact search.
type searchResponse struct {
	Total   int       `json:"total"`
	Results []Contact `json:"results"`
}

// APIError is a non-success response from HubSpot.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot API error (status %d): %s", e.StatusCode, e.Body)
}
