package query

import (
	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/document"
)

var (
	// ErrInvalidQuery is returned for queries no declared index can serve, or
	// whose shape the planner rejects.
	ErrInvalidQuery = ierrors.New("invalid query")

	// ErrInvalidProof is returned when a query proof does not verify against
	// the trusted root digest.
	ErrInvalidProof = ierrors.New("invalid query proof")
)

const (
	// DefaultLimit is applied when a query does not set a limit.
	DefaultLimit = 100

	// MaxLimit caps the result size of a single query.
	MaxLimit = 100
)

// Operator is a comparison of a where clause.
type Operator byte

const (
	OpEqual Operator = iota
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
	OpIn
)

// WhereClause constrains one property. OpIn carries its candidates in Values;
// every other operator uses Value.
type WhereClause struct {
	Property string
	Operator Operator
	Value    document.Value
	Values   []document.Value
}

// OrderBy sorts the result by one property.
type OrderBy struct {
	Property  string
	Ascending bool
}

// Query selects documents of one type. It is only executable when some index
// declared by the contract covers its clauses and ordering.
type Query struct {
	ContractID   []byte
	DocumentType string
	Where        []WhereClause
	OrderBy      []OrderBy
	Limit        int

	// StartAt / StartAfter resume a previous query at the document with the
	// given ID, inclusively or exclusively. At most one may be set.
	StartAt    []byte
	StartAfter []byte
}

func (q *Query) effectiveLimit() (int, error) {
	if q.Limit < 0 || q.Limit > MaxLimit {
		return 0, ierrors.Wrapf(ErrInvalidQuery, "limit %d out of range", q.Limit)
	}
	if q.Limit == 0 {
		return DefaultLimit, nil
	}

	return q.Limit, nil
}

func (q *Query) cursor() (id []byte, inclusive bool, err error) {
	if q.StartAt != nil && q.StartAfter != nil {
		return nil, false, ierrors.Wrap(ErrInvalidQuery, "StartAt and StartAfter are mutually exclusive")
	}
	if q.StartAt != nil {
		return q.StartAt, true, nil
	}

	return q.StartAfter, false, nil
}
