package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// ImportResult summarises a spreadsheet import.
type ImportResult struct {
	Added   int
	Skipped int
}

// columnAliases maps normalised spreadsheet headers to the field they fill.
var columnAliases = map[string]string{
	"clientname":       "name",
	"name":             "name",
	"client":           "name",
	"hubspotid":        "contact",
	"contactid":        "contact",
	"crmcontactid":     "contact",
	"accountowner":     "owner",
	"owner":            "owner",
	"pm":               "pm",
	"productmanager":   "pm",
	"clienthealth":     "health",
	"health":           "health",
	"tier":             "tier",
	"pa":               "assistant",
	"assistant":        "assistant",
	"notionpageid":     "page",
	"pageid":           "page",
	"clientstatus":     "status",
	"status":           "status",
	"tierreasoning":    "reasoning",
	"churnedat":        "churned",
	"churnedtimestamp": "churned",
	"churned":          "churned",
}

// instantLayouts are the accepted churned timestamp formats.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

func normaliseHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseInstant(s string) (Instant, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Instant{}, nil
	}
	for _, l := range instantLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return NewInstant(t), nil
		}
	}
	return Instant{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ImportSpreadsheet seeds the staging table from an xlsx workbook. The first row of
// the sheet names the columns, in any order. Rows without a client name are skipped
// as are clients already in the table (compared case-insensitively); existing rows
// are never overwritten. An empty sheet name uses the first sheet. The rows are
// added in one transaction: an error on any row leaves the table unchanged.
func (db *DB) ImportSpreadsheet(ctx context.Context, r io.Reader, sheet string) (ImportResult, error) {

	var result ImportResult

	f, err := excelize.OpenReader(r)
	if err != nil {
		return result, fmt.Errorf("could not open spreadsheet: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return result, errors.New("spreadsheet has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return result, fmt.Errorf("could not read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return result, fmt.Errorf("sheet %q is empty", sheet)
	}

	columns := map[string]int{}
	for i, h := range rows[0] {
		if field, ok := columnAliases[normaliseHeader(h)]; ok {
			if _, seen := columns[field]; !seen {
				columns[field] = i
			}
		}
	}
	if _, ok := columns["name"]; !ok {
		return result, fmt.Errorf("sheet %q has no client name column", sheet)
	}

	// The whole sheet is imported or nothing is.
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback() // no-op after commit.

	byName := tx.NamedStmtContext(ctx, db.clientByNameStmt.NamedStmt)
	insert := tx.NamedStmtContext(ctx, db.clientInsertStmt.NamedStmt)
	now := time.Now()

	for n, row := range rows[1:] {
		cell := func(field string) string {
			i, ok := columns[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		name := cell("name")
		if name == "" {
			result.Skipped++
			continue
		}
		nameArgs := map[string]any{"ClientName": name}
		var existing Client
		err := byName.GetContext(ctx, &existing, nameArgs)
		db.logQuery("client by name", db.clientByNameStmt, nameArgs, err)
		switch {
		case err == nil:
			result.Skipped++
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return ImportResult{}, fmt.Errorf("sheet %q row %d: client by name select error: %w", sheet, n+2, err)
		}

		churned, err := parseInstant(cell("churned"))
		if err != nil {
			return ImportResult{}, fmt.Errorf("sheet %q row %d: %w", sheet, n+2, err)
		}

		c := Client{
			ClientName:        name,
			ContactID:         cell("contact"),
			AccountOwner:      cell("owner"),
			ProductManager:    cell("pm"),
			ProductManagerRaw: cell("pm"),
			ClientHealth:      cell("health"),
			Tier:              cell("tier"),
			TierRaw:           cell("tier"),
			Assistant:         cell("assistant"),
			AssistantRaw:      cell("assistant"),
			PageID:            cell("page"),
			ClientStatus:      cell("status"),
			TierReasoning:     cell("reasoning"),
			ChurnedAt:         churned,
		}
		insertArgs := clientArgs(c, now)
		insertArgs["ClientName"] = c.ClientName
		if err := db.clientInsertStmt.verifyArgs(insertArgs); err != nil {
			return ImportResult{}, err
		}
		_, err = insert.ExecContext(ctx, insertArgs)
		db.logQuery("client insert", db.clientInsertStmt, insertArgs, err)
		if err != nil {
			return ImportResult{}, fmt.Errorf("sheet %q row %d: client insert error for %q: %w", sheet, n+2, name, err)
		}
		result.Added++
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("import commit error: %w", err)
	}
	return result, nil
}
