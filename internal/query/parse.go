// parse.go bridges a QueryConfig's declarative query string (spec.md §6.1,
// §8 scenario a: `MATCH (i:Item) RETURN i.name AS name`) onto the
// labelProjection reference evaluator. It intentionally recognizes only
// the single-label MATCH/RETURN shape the reference evaluator supports —
// anything else is rejected with a clear error rather than silently
// mis-evaluated, per SPEC_FULL.md §4.3.1's evaluator boundary.
package query

import (
	"regexp"
	"strings"

	"github.com/drasi-project/drasi-server/internal/apierrors"
)

var (
	matchPattern  = regexp.MustCompile(`(?i)^\s*MATCH\s*\(\s*(\w+)\s*:\s*(\w+)\s*\)\s*RETURN\s+(.+)$`)
	columnPattern = regexp.MustCompile(`(?i)^\s*(\w+)\.(\w+)(?:\s+AS\s+(\w+))?\s*$`)
)

// ParseSingleLabelProjection parses a `MATCH (alias:Label) RETURN
// alias.prop [AS out], ...` query string into the label and output column
// mapping NewLabelProjectionIndex expects.
func ParseSingleLabelProjection(query string) (label string, columns map[string]string, err error) {
	m := matchPattern.FindStringSubmatch(query)
	if m == nil {
		return "", nil, apierrors.InvalidConfig("query does not match the supported MATCH (alias:Label) RETURN ... shape: " + query)
	}
	alias, label := m[1], m[2]

	columns = make(map[string]string)
	for _, part := range strings.Split(m[3], ",") {
		cm := columnPattern.FindStringSubmatch(part)
		if cm == nil {
			return "", nil, apierrors.InvalidConfig("unsupported RETURN projection term: " + part)
		}
		if !strings.EqualFold(cm[1], alias) {
			return "", nil, apierrors.InvalidConfig("RETURN term references unknown alias " + cm[1])
		}
		prop := cm[2]
		outAlias := cm[3]
		if outAlias == "" {
			outAlias = prop
		}
		columns[prop] = outAlias
	}
	return label, columns, nil
}

// BuildGraphIndex constructs the GraphIndex for a query string, per the
// single-label reference evaluator this package ships.
func BuildGraphIndex(query string) (GraphIndex, error) {
	label, columns, err := ParseSingleLabelProjection(query)
	if err != nil {
		return nil, err
	}
	return NewLabelProjectionIndex(label, columns), nil
}
