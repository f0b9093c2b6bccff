package db

// clients.go deals with the staging table rows.

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// timeLayout is the storage format of timestamps.
const timeLayout = time.RFC3339Nano

// Instant is a nullable timestamp stored as RFC3339 text.
type Instant struct {
	Time  time.Time
	Valid bool
}

// NewInstant returns a valid Instant for t.
func NewInstant(t time.Time) Instant {
	return Instant{Time: t, Valid: true}
}

// Scan implements sql.Scanner.
func (i *Instant) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*i = Instant{}
		return nil
	case time.Time:
		*i = NewInstant(v)
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Instant", src)
	}
	if strings.TrimSpace(s) == "" {
		*i = Instant{}
		return nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return fmt.Errorf("invalid instant %q: %w", s, err)
	}
	*i = NewInstant(t)
	return nil
}

// Value implements driver.Valuer.
func (i Instant) Value() (driver.Value, error) {
	if !i.Valid {
		return nil, nil
	}
	return i.Time.UTC().Format(timeLayout), nil
}

// Client is a staging table row. The product manager, assistant and tier are held
// both as received from the CRM (the Raw fields) and as mapped for display.
type Client struct {
	RowNo             int64   `db:"row_no"`
	ClientName        string  `db:"client_name"`
	ContactID         string  `db:"contact_id"`
	AccountOwner      string  `db:"account_owner"`
	ProductManager    string  `db:"product_manager"`
	ProductManagerRaw string  `db:"product_manager_raw"`
	ClientHealth      string  `db:"client_health"`
	Tier              string  `db:"tier"`
	TierRaw           string  `db:"tier_raw"`
	Assistant         string  `db:"assistant"`
	AssistantRaw      string  `db:"assistant_raw"`
	PageID            string  `db:"page_id"`
	ClientStatus      string  `db:"client_status"`
	TierReasoning     string  `db:"tier_reasoning"`
	ChurnedAt         Instant `db:"churned_at"`
}

// Eligible reports whether the row can take part in an outbound sync, which needs both
// the client name and the CRM contact id.
func (c Client) Eligible() bool {
	return strings.TrimSpace(c.ClientName) != "" && strings.TrimSpace(c.ContactID) != ""
}

// ClientListing is a Client with the count of rows matching the listing query.
type ClientListing struct {
	Client
	RowCount int `db:"row_count"`
}

// Clients returns the staging rows in row order. An empty status returns all rows; a
// limit of -1 means no limit.
func (db *DB) Clients(ctx context.Context, status string, limit, offset int) ([]ClientListing, error) {

	stmt := db.clientsGetStmt

	namedArgs := map[string]any{
		"StatusFilter": strings.TrimSpace(status),
		"HereLimit":    limit,
		"HereOffset":   offset,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, err
	}

	var clients []ClientListing
	err := stmt.SelectContext(ctx, &clients, namedArgs)
	db.logQuery("clients", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("clients select error: %w", err)
	}
	return clients, nil
}

// AllClients returns every staging row in row order.
func (db *DB) AllClients(ctx context.Context) ([]Client, error) {
	listing, err := db.Clients(ctx, "", -1, 0)
	if err != nil {
		return nil, err
	}
	clients := make([]Client, len(listing))
	for i, l := range listing {
		clients[i] = l.Client
	}
	return clients, nil
}

// ClientByName returns the first row whose name matches name case-insensitively, or
// ErrNoRows.
func (db *DB) ClientByName(ctx context.Context, name string) (Client, error) {

	stmt := db.clientByNameStmt

	namedArgs := map[string]any{
		"ClientName": name,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return Client{}, err
	}

	var client Client
	err := stmt.GetContext(ctx, &client, namedArgs)
	db.logQuery("client by name", stmt, namedArgs, err)
	if err != nil {
		if err == sql.ErrNoRows {
			return Client{}, ErrNoRows
		}
		return Client{}, fmt.Errorf("client by name select error: %w", err)
	}
	return client, nil
}

// ClientByRow returns the row with the given row number, or ErrNoRows.
func (db *DB) ClientByRow(ctx context.Context, rowNo int64) (Client, error) {

	stmt := db.clientByRowStmt

	namedArgs := map[string]any{
		"RowNo": rowNo,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return Client{}, err
	}

	var client Client
	err := stmt.GetContext(ctx, &client, namedArgs)
	db.logQuery("client by row", stmt, namedArgs, err)
	if err != nil {
		if err == sql.ErrNoRows {
			return Client{}, ErrNoRows
		}
		return Client{}, fmt.Errorf("client by row select error: %w", err)
	}
	return client, nil
}

// clientArgs returns the named arguments common to insert and update.
func clientArgs(c Client, now time.Time) map[string]any {
	return map[string]any{
		"ContactID":         strings.TrimSpace(c.ContactID),
		"AccountOwner":      c.AccountOwner,
		"ProductManager":    c.ProductManager,
		"ProductManagerRaw": c.ProductManagerRaw,
		"ClientHealth":      c.ClientHealth,
		"Tier":              c.Tier,
		"TierRaw":           c.TierRaw,
		"Assistant":         c.Assistant,
		"AssistantRaw":      c.AssistantRaw,
		"PageID":            strings.TrimSpace(c.PageID),
		"ClientStatus":      c.ClientStatus,
		"TierReasoning":     c.TierReasoning,
		"ChurnedAt":         c.ChurnedAt,
		"UpdatedAt":         now.UTC().Format(timeLayout),
	}
}

// ClientAppend appends a row to the staging table, returning it with its row number.
func (db *DB) ClientAppend(ctx context.Context, c Client) (Client, error) {

	if strings.TrimSpace(c.ClientName) == "" {
		return Client{}, fmt.Errorf("client append: client name is empty")
	}

	stmt := db.clientInsertStmt

	namedArgs := clientArgs(c, time.Now())
	namedArgs["ClientName"] = c.ClientName
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return Client{}, err
	}

	result, err := stmt.ExecContext(ctx, namedArgs)
	db.logQuery("client insert", stmt, namedArgs, err)
	if err != nil {
		return Client{}, fmt.Errorf("client insert error for %q: %w", c.ClientName, err)
	}
	c.RowNo, err = result.LastInsertId()
	if err != nil {
		return Client{}, fmt.Errorf("client insert id error for %q: %w", c.ClientName, err)
	}
	c.ClientName = strings.TrimSpace(c.ClientName)
	return c, nil
}

// ClientUpdate overwrites every attribute of the row c.RowNo with the values in c.
// The client name is the row's human key and is never changed.
func (db *DB) ClientUpdate(ctx context.Context, c Client) error {

	stmt := db.clientUpdateStmt

	namedArgs := clientArgs(c, time.Now())
	namedArgs["RowNo"] = c.RowNo
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return err
	}

	result, err := stmt.ExecContext(ctx, namedArgs)
	db.logQuery("client update", stmt, namedArgs, err)
	if err != nil {
		return fmt.Errorf("client update error for row %d: %w", c.RowNo, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("client update rows affected error for row %d: %w", c.RowNo, err)
	}
	if n == 0 {
		return fmt.Errorf("client update: row %d: %w", c.RowNo, ErrNoRows)
	}
	return nil
}
