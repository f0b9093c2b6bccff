package db

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

// ParameterizedSQLTemplate is a struct holding a parsed template with the parameter
// names extracted and each inline value replaced by a named placeholder.
type ParameterizedSQLTemplate struct {
	Body       []byte
	Parameters []string
}

// String provides a printable representation.
func (p ParameterizedSQLTemplate) String() string {
	tpl := `
Params: %s
Body:   %s
`
	return fmt.Sprintf(tpl, strings.Join(p.Parameters, ", "), string(p.Body))
}

// regexpParam matches lines such as
//
//	,'Lewis Waldron' AS ClientName    /* @param */
//
// for extracting the `ClientName` parameter and replacing the provided value with a
// named placeholder, for example:
//
//	,:ClientName AS ClientName
//
// Note that the spacing inside the marker comment needs to be precise.
var (
	paramAtoms = []string{
		`(?:date\('[^']+'\))`,        // date('2026-03-31')
		`(?:[a-zA-Z_]\w*\([^\)]*\))`, // any_func(...)
		`(?:'[^']*')`,                // 'a string' or ''
		`(?:-?\d*\.?\d+)`,            // 123 or 1.23 or -1
		`(?:null)`,                   // null
	}

	// regexpParam is made of 4 named components. The 'value' element is built up
	// out of the non-capturing paramAtoms items.
	regexpParam = regexp.MustCompile(fmt.Sprintf(
		`(?P<value>%s)(?P<as>\s+AS\s+)(?P<param>[A-Za-z0-9_]+)(?P<end>\s+/\* @param \*/)`,
		strings.Join(paramAtoms, "|"),
	))
)

// parameterize takes an sql template with inline variable definitions, which makes
// the file runnable as-is in the sqlite shell, and turns the definitions into sqlx
// named parameters.
//
// The inline definitions are marked with an `/* @param */` comment such as:
//
//	,'' AS StatusFilter    /* @param */
//
// which is returned as
//
//	*ParameterizedSQLTemplate{
//	    Parameters: []string{"StatusFilter"},
//	    Body:       []byte(`,:StatusFilter AS StatusFilter`),
//	}
//
// Multiple definitions in a template are handled, as shown in the test. Since sqlx
// treats every ':' as the start of a named parameter, templates must not otherwise
// contain colons.
func parameterize(tpl []byte) (*ParameterizedSQLTemplate, error) {

	matches := regexpParam.FindAllSubmatch(tpl, -1)
	if len(matches) == 0 {
		return nil, errors.New("parameterize: no parameters found")
	}

	pst := &ParameterizedSQLTemplate{
		Parameters: make([]string, len(matches)),
	}

	paramIdx := regexpParam.SubexpIndex("param")
	for i := range matches {
		pst.Parameters[i] = string(matches[i][paramIdx])
	}

	pst.Body = regexpParam.ReplaceAll(tpl, []byte(`:${param}${as}${param}`))
	return pst, nil
}

// ParameterizeFile takes an sql file and returns a ParameterizedSQLTemplate or error.
func ParameterizeFile(fileFS fs.FS, filePath string) (*ParameterizedSQLTemplate, error) {

	fileBytes, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("file read error: %w", err)
	}
	query, err := parameterize(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("query template error: %w", err)
	}
	return query, nil
}
