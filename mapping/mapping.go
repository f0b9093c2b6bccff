// Package mapping translates raw CRM vocabulary (free-text owner, assistant and tier
// labels) into the canonical display names and the workspace database's controlled
// vocabulary.
//
// Every lookup is an exact-key match against a static table. A miss returns the input
// unchanged, so a value is never dropped because a table is incomplete.
//
// The two tier tables are independent. TiersReverse is not derived from Tiers and the
// two are not expected to be inverses of each other; callers pick the table by
// Direction.
package mapping

// Direction selects the tier table used by MapTier.
type Direction int

const (
	// ToWorkspace maps CRM tier labels to workspace database labels.
	ToWorkspace Direction = iota
	// ToCRM maps workspace database tier labels back to CRM labels.
	ToCRM
)

var directionName = map[Direction]string{
	ToWorkspace: "crm->workspace",
	ToCRM:       "workspace->crm",
}

// String returns the Direction name.
func (d Direction) String() string {
	return directionName[d]
}

// Tables holds the static lookup tables. The zero value is usable and maps every
// value to itself.
type Tables struct {
	Owners       map[string]string
	Assistants   map[string]string
	Tiers        map[string]string
	TiersReverse map[string]string
}

// Defaults returns the tables the system ships with. Configuration may replace any of
// them.
func Defaults() Tables {
	return Tables{
		Owners: map[string]string{
			"Lewis": "Lewis Waldron",
			"Phil":  "Phil Saunes",
			"Nooch": "Nooch Saeedi",
		},
		Assistants: map[string]string{
			"Robin": "Robin Rajan",
			"Alex":  "Alex Smith",
		},
		Tiers: map[string]string{
			"High Growth":                           "Tier 1 → GTM clients",
			"Flat Renewal":                          "Tier 2a → GTM trial (On retainer)",
			"Tier 2b → GTM trial (not on retainer)": "Tier 2b → GTM trial (not on retainer)",
			"Tier 3 → Not yet GTM trial":            "Tier 3 → Not yet GTM trial",
			"Non-ICP":                               "Tier 4 → Content only ICP",
			"definitely deprio":                     "Tier 5 → Content only not-ICP",
		},
		TiersReverse: map[string]string{
			"Tier 1 → GTM clients":                  "High Growth",
			"Tier 2a → GTM trial (On retainer)":     "Flat Renewal",
			"Tier 2b → GTM trial (not on retainer)": "Tier 2b → GTM trial (not on retainer)",
			"Tier 3 → Not yet GTM trial":            "Tier 3 → Not yet GTM trial",
			"Tier 4 → Content only ICP":             "Non-ICP",
			"Tier 5 → Content only not-ICP":         "Deprioritised",
		},
	}
}

// MapOwner returns the canonical name for an owner or product manager alias.
func (t Tables) MapOwner(raw string) string {
	return lookup(t.Owners, raw)
}

// MapAssistant returns the canonical name for an assistant alias.
func (t Tables) MapAssistant(raw string) string {
	return lookup(t.Assistants, raw)
}

// MapTier maps a tier label using the table for the given direction.
func (t Tables) MapTier(raw string, d Direction) string {
	switch d {
	case ToCRM:
		return lookup(t.TiersReverse, raw)
	default:
		return lookup(t.Tiers, raw)
	}
}

// lookup is an exact-key match returning raw on a miss. An empty mapped value in a
// table is treated as a miss so that a non-empty input never maps to "".
func lookup(table map[string]string, raw string) string {
	if v, ok := table[raw]; ok && v != "" {
		return v
	}
	return raw
}
