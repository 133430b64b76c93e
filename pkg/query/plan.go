package query

import (
	"bytes"
	"sort"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/byteutils"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/document"
	"github.com/iotaledger/drive.go/pkg/grove"
)

// plan is a compiled query: the index that serves it and the key ranges to
// scan over that index's subtree, in scan order.
type plan struct {
	index         contract.Index
	indexPath     grove.Path
	primaryPath   grove.Path
	scanAscending bool
	subranges     []grove.Range
}

// clauses is the normalized shape of a query's where clauses: an equality set,
// at most one membership clause, and at most one lower and one upper bound on
// a single range property.
type clauses struct {
	equal     map[string]document.Value
	in        *WhereClause
	rangeProp string
	lower     *WhereClause
	upper     *WhereClause
}

func normalizeClauses(where []WhereClause) (*clauses, error) {
	cs := &clauses{equal: make(map[string]document.Value)}

	for i := range where {
		clause := &where[i]
		switch clause.Operator {
		case OpEqual:
			if _, duplicate := cs.equal[clause.Property]; duplicate {
				return nil, ierrors.Wrapf(ErrInvalidQuery, "duplicate equality on %q", clause.Property)
			}
			cs.equal[clause.Property] = clause.Value

		case OpIn:
			if cs.in != nil {
				return nil, ierrors.Wrap(ErrInvalidQuery, "at most one 'in' clause is allowed")
			}
			if len(clause.Values) == 0 {
				return nil, ierrors.Wrapf(ErrInvalidQuery, "'in' clause on %q has no values", clause.Property)
			}
			cs.in = clause

		case OpGreater, OpGreaterOrEqual:
			if cs.lower != nil {
				return nil, ierrors.Wrap(ErrInvalidQuery, "at most one lower bound is allowed")
			}
			if cs.rangeProp != "" && cs.rangeProp != clause.Property {
				return nil, ierrors.Wrap(ErrInvalidQuery, "range clauses must target a single property")
			}
			cs.rangeProp = clause.Property
			cs.lower = clause

		case OpLess, OpLessOrEqual:
			if cs.upper != nil {
				return nil, ierrors.Wrap(ErrInvalidQuery, "at most one upper bound is allowed")
			}
			if cs.rangeProp != "" && cs.rangeProp != clause.Property {
				return nil, ierrors.Wrap(ErrInvalidQuery, "range clauses must target a single property")
			}
			cs.rangeProp = clause.Property
			cs.upper = clause

		default:
			return nil, ierrors.Wrapf(ErrInvalidQuery, "unknown operator %d", clause.Operator)
		}
	}

	if cs.in != nil {
		if _, alsoEqual := cs.equal[cs.in.Property]; alsoEqual {
			return nil, ierrors.Wrapf(ErrInvalidQuery, "property %q has both equality and 'in' clauses", cs.in.Property)
		}
		if cs.rangeProp != "" {
			return nil, ierrors.Wrap(ErrInvalidQuery, "'in' and range clauses cannot be combined")
		}
	}
	if cs.rangeProp != "" {
		if _, alsoEqual := cs.equal[cs.rangeProp]; alsoEqual {
			return nil, ierrors.Wrapf(ErrInvalidQuery, "property %q has both equality and range clauses", cs.rangeProp)
		}
	}

	return cs, nil
}

// planQuery compiles the query against the contract's declared indices. The
// first index in declaration order that covers the equality set as a column
// prefix, the range/membership clause (if any) as the next column, and the
// requested ordering as a column run, wins. No covering index means the query
// is rejected.
func planQuery(c *contract.Contract, q *Query) (*plan, error) {
	documentType, err := c.DocumentType(q.DocumentType)
	if err != nil {
		return nil, err
	}

	cs, err := normalizeClauses(q.Where)
	if err != nil {
		return nil, err
	}

	for _, index := range documentType.Indices {
		p, ok := tryIndex(q, index, cs)
		if ok {
			return p, nil
		}
	}

	return nil, ierrors.Wrapf(ErrInvalidQuery, "no index of %q covers the query", q.DocumentType)
}

func tryIndex(q *Query, index contract.Index, cs *clauses) (*plan, bool) {
	columns := index.Properties

	// Equality clauses must form a prefix of the index columns.
	eqLen := 0
	for eqLen < len(columns) {
		if _, isEqual := cs.equal[columns[eqLen].Path]; !isEqual {
			break
		}
		eqLen++
	}
	if eqLen != len(cs.equal) {
		return nil, false
	}

	// The membership or range clause must sit on the column right after the
	// equality prefix.
	boundProp := cs.rangeProp
	if cs.in != nil {
		boundProp = cs.in.Property
	}
	if boundProp != "" {
		if eqLen >= len(columns) || columns[eqLen].Path != boundProp {
			return nil, false
		}
	}

	scanAscending := true
	if len(q.OrderBy) > 0 {
		if eqLen+len(q.OrderBy) > len(columns) {
			return nil, false
		}
		if boundProp != "" && q.OrderBy[0].Property != boundProp {
			return nil, false
		}
		for k, orderBy := range q.OrderBy {
			column := columns[eqLen+k]
			if orderBy.Property != column.Path {
				return nil, false
			}
			sameDirection := orderBy.Ascending == column.Ascending
			if k == 0 {
				scanAscending = sameDirection
			} else if sameDirection != scanAscending {
				return nil, false
			}
		}
	}

	prefix := make([]byte, 0, 64)
	for i := 0; i < eqLen; i++ {
		prefix = append(prefix, encodeColumn(cs.equal[columns[i].Path], columns[i].Ascending)...)
	}

	p := &plan{
		index:         index,
		indexPath:     contract.IndexPath(q.ContractID, q.DocumentType, index.Name),
		primaryPath:   contract.DocumentsPath(q.ContractID, q.DocumentType),
		scanAscending: scanAscending,
	}

	switch {
	case cs.in != nil:
		p.subranges = inSubranges(prefix, columns[eqLen], cs.in.Values, scanAscending)
	default:
		p.subranges = []grove.Range{boundedRange(prefix, columns, eqLen, cs, scanAscending)}
	}

	return p, true
}

// inSubranges builds one group subrange per distinct candidate value, ordered
// by the scan direction.
func inSubranges(prefix []byte, column contract.IndexProperty, values []document.Value, scanAscending bool) []grove.Range {
	seen := make(map[string]struct{}, len(values))
	subranges := make([]grove.Range, 0, len(values))

	for _, value := range values {
		groupPrefix := byteutils.ConcatBytes(prefix, encodeColumn(value, column.Ascending))
		if _, duplicate := seen[string(groupPrefix)]; duplicate {
			continue
		}
		seen[string(groupPrefix)] = struct{}{}

		subranges = append(subranges, grove.Range{
			Start:     groupPrefix,
			End:       prefixSuccessor(groupPrefix),
			Ascending: scanAscending,
		})
	}

	sort.Slice(subranges, func(i, j int) bool {
		return bytes.Compare(subranges[i].Start, subranges[j].Start) < 0
	})
	if !scanAscending {
		for i, j := 0, len(subranges)-1; i < j; i, j = i+1, j-1 {
			subranges[i], subranges[j] = subranges[j], subranges[i]
		}
	}

	return subranges
}

// boundedRange builds the single subrange of an equality prefix plus optional
// lower/upper bounds on the next column. Bounds on a descending column swap
// ends, since its encoding inverts the order.
func boundedRange(prefix []byte, columns []contract.IndexProperty, eqLen int, cs *clauses, scanAscending bool) grove.Range {
	rng := grove.Range{
		Start:     prefix,
		End:       prefixSuccessor(prefix),
		Ascending: scanAscending,
	}
	if len(prefix) == 0 {
		rng.Start = nil
	}

	if cs.lower == nil && cs.upper == nil {
		return rng
	}

	column := columns[eqLen]
	groupEnd := rng.End

	setLower := func(encoded []byte, inclusive bool) {
		if inclusive {
			rng.Start = byteutils.ConcatBytes(prefix, encoded)

			return
		}
		if successor := prefixSuccessor(encoded); successor != nil {
			rng.Start = byteutils.ConcatBytes(prefix, successor)
		} else {
			rng.Start = groupEnd
		}
	}
	setUpper := func(encoded []byte, inclusive bool) {
		if !inclusive {
			rng.End = byteutils.ConcatBytes(prefix, encoded)

			return
		}
		if successor := prefixSuccessor(encoded); successor != nil {
			rng.End = byteutils.ConcatBytes(prefix, successor)
		} else {
			rng.End = groupEnd
		}
	}

	if cs.lower != nil {
		encoded := encodeColumn(cs.lower.Value, column.Ascending)
		inclusive := cs.lower.Operator == OpGreaterOrEqual
		if column.Ascending {
			setLower(encoded, inclusive)
		} else {
			setUpper(encoded, inclusive)
		}
	}
	if cs.upper != nil {
		encoded := encodeColumn(cs.upper.Value, column.Ascending)
		inclusive := cs.upper.Operator == OpLessOrEqual
		if column.Ascending {
			setUpper(encoded, inclusive)
		} else {
			setLower(encoded, inclusive)
		}
	}

	return rng
}

func encodeColumn(value document.Value, ascending bool) []byte {
	key := value.CollationKey()
	if !ascending {
		key = document.InvertBytes(key)
	}

	return key
}

// prefixSuccessor returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func prefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			successor := make([]byte, i+1)
			copy(successor, prefix[:i+1])
			successor[i]++

			return successor
		}
	}

	return nil
}
