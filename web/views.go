package web

/* json view types for the web server */

import (
	"time"

	"clientsync/db"
)

// viewClient is the JSON form of a staging row.
type viewClient struct {
	RowNo             int64  `json:"row_no"`
	ClientName        string `json:"client_name"`
	ContactID         string `json:"contact_id,omitempty"`
	PageID            string `json:"page_id,omitempty"`
	AccountOwner      string `json:"account_owner,omitempty"`
	ProductManager    string `json:"product_manager,omitempty"`
	ProductManagerRaw string `json:"product_manager_raw,omitempty"`
	Assistant         string `json:"assistant,omitempty"`
	AssistantRaw      string `json:"assistant_raw,omitempty"`
	ClientHealth      string `json:"client_health,omitempty"`
	Tier              string `json:"tier,omitempty"`
	TierRaw           string `json:"tier_raw,omitempty"`
	TierReasoning     string `json:"tier_reasoning,omitempty"`
	ClientStatus      string `json:"client_status,omitempty"`
	ChurnedAt         string `json:"churned_at,omitempty"`
}

// newViewClients maps listing rows to views.
func newViewClients(clients []db.ClientListing) []viewClient {
	vc := make([]viewClient, len(clients))
	for i, c := range clients {
		vc[i] = viewClient{
			RowNo:             c.RowNo,
			ClientName:        c.ClientName,
			ContactID:         c.ContactID,
			PageID:            c.PageID,
			AccountOwner:      c.AccountOwner,
			ProductManager:    c.ProductManager,
			ProductManagerRaw: c.ProductManagerRaw,
			Assistant:         c.Assistant,
			AssistantRaw:      c.AssistantRaw,
			ClientHealth:      c.ClientHealth,
			Tier:              c.Tier,
			TierRaw:           c.TierRaw,
			TierReasoning:     c.TierReasoning,
			ClientStatus:      c.ClientStatus,
			ChurnedAt:         instantString(c.ChurnedAt),
		}
	}
	return vc
}

// viewLogEntry is the JSON form of a log line.
type viewLogEntry struct {
	ID       int64  `json:"id"`
	LoggedAt string `json:"logged_at"`
	Message  string `json:"message"`
}

func newViewLogEntries(entries []db.LogEntry) []viewLogEntry {
	vl := make([]viewLogEntry, len(entries))
	for i, e := range entries {
		vl[i] = viewLogEntry{ID: e.ID, LoggedAt: instantString(e.LoggedAt), Message: e.Message}
	}
	return vl
}

func instantString(i db.Instant) string {
	if !i.Valid {
		return ""
	}
	return i.Time.UTC().Format(time.RFC3339)
}
