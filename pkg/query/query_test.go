package query

import (
	"testing"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/document"
	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

var (
	contractID = []byte("contract-1")

	people = []struct {
		id        string
		firstName string
		lastName  string
		age       int64
	}{
		{"p1", "John", "Kennedy", 40},
		{"p2", "Robert", "Kennedy", 38},
		{"p3", "Ted", "Kennedy", 36},
		{"p4", "Jackie", "Onassis", 35},
		{"p5", "Aristotle", "Onassis", 60},
		{"p6", "Marilyn", "Monroe", 30},
	}
)

func personContract() *contract.Contract {
	return &contract.Contract{
		ID:      contractID,
		OwnerID: []byte("owner-1"),
		Version: 1,
		DocumentTypes: map[string]*contract.DocumentType{
			"person": {
				Name: "person",
				Properties: []contract.Property{
					{Name: "firstName", Kind: contract.PropertyString, Required: true},
					{Name: "lastName", Kind: contract.PropertyString, Required: true},
					{Name: "age", Kind: contract.PropertyInt},
				},
				Indices: []contract.Index{
					{Name: "byLastFirst", Properties: []contract.IndexProperty{
						{Path: "lastName", Ascending: true},
						{Path: "firstName", Ascending: true},
					}},
					{Name: "byAgeDesc", Properties: []contract.IndexProperty{
						{Path: "age", Ascending: false},
					}},
				},
			},
		},
	}
}

func queryFixture(t *testing.T) (*grove.Tree, *contract.Manager, *Executor) {
	t.Helper()

	tree := grove.New(mapdb.NewMapDB())
	contracts := contract.NewManager(tree)
	documents := document.NewStore(contracts, true)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutSubtree(grove.RootPath, model.RootKeyContracts))
	require.NoError(t, contracts.Apply(batch, personContract()))

	for _, person := range people {
		require.NoError(t, documents.Create(batch, &document.Document{
			ID:         []byte(person.id),
			ContractID: contractID,
			OwnerID:    []byte("owner-1"),
			Type:       "person",
			Revision:   1,
			Properties: map[string]document.Value{
				"firstName": document.StringValue(person.firstName),
				"lastName":  document.StringValue(person.lastName),
				"age":       document.IntValue(person.age),
			},
		}))
	}
	require.NoError(t, batch.Commit())

	return tree, contracts, NewExecutor(tree, contracts)
}

func resultIDs(results []*document.Document) []string {
	ids := make([]string, len(results))
	for i, d := range results {
		ids[i] = string(d.ID)
	}

	return ids
}

func TestExecute_Equality(t *testing.T) {
	_, _, executor := queryFixture(t)

	results, err := executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
		OrderBy:      []OrderBy{{Property: "firstName", Ascending: true}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2", "p3"}, resultIDs(results))
}

func TestExecute_DescendingOrder(t *testing.T) {
	_, _, executor := queryFixture(t)

	results, err := executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
		OrderBy:      []OrderBy{{Property: "firstName", Ascending: false}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p3", "p2", "p1"}, resultIDs(results))
}

func TestExecute_RangeOnDescendingIndex(t *testing.T) {
	_, _, executor := queryFixture(t)

	results, err := executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "age", Operator: OpGreaterOrEqual, Value: document.IntValue(36)}},
		OrderBy:      []OrderBy{{Property: "age", Ascending: false}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p5", "p1", "p2", "p3"}, resultIDs(results))
}

func TestExecute_BoundedRange(t *testing.T) {
	_, _, executor := queryFixture(t)

	results, err := executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where: []WhereClause{
			{Property: "age", Operator: OpGreater, Value: document.IntValue(30)},
			{Property: "age", Operator: OpLess, Value: document.IntValue(40)},
		},
		OrderBy: []OrderBy{{Property: "age", Ascending: false}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3", "p4"}, resultIDs(results))
}

func TestExecute_In(t *testing.T) {
	_, _, executor := queryFixture(t)

	results, err := executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where: []WhereClause{{
			Property: "lastName",
			Operator: OpIn,
			Values:   []document.Value{document.StringValue("Onassis"), document.StringValue("Monroe")},
		}},
		OrderBy: []OrderBy{{Property: "lastName", Ascending: true}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p6", "p5", "p4"}, resultIDs(results))
}

func TestExecute_LimitAndCursor(t *testing.T) {
	_, _, executor := queryFixture(t)

	page := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
		Limit:        2,
	}
	first, err := executor.Execute(page)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, resultIDs(first))

	page.StartAfter = first[len(first)-1].ID
	second, err := executor.Execute(page)
	require.NoError(t, err)
	require.Equal(t, []string{"p3"}, resultIDs(second))

	// StartAt includes the cursor document itself
	page.StartAfter = nil
	page.StartAt = []byte("p2")
	resumed, err := executor.Execute(page)
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3"}, resultIDs(resumed))
}

func TestExecute_InvalidQueries(t *testing.T) {
	_, _, executor := queryFixture(t)

	// no index covers the property
	_, err := executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "firstName", Operator: OpEqual, Value: document.StringValue("John")}},
	})
	require.ErrorIs(t, err, ErrInvalidQuery)

	// ordering must follow the index columns
	_, err = executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
		OrderBy:      []OrderBy{{Property: "age", Ascending: true}},
	})
	require.ErrorIs(t, err, ErrInvalidQuery)

	// range clauses on two properties cannot be served by one index
	_, err = executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where: []WhereClause{
			{Property: "age", Operator: OpGreater, Value: document.IntValue(10)},
			{Property: "firstName", Operator: OpLess, Value: document.StringValue("zz")},
		},
	})
	require.ErrorIs(t, err, ErrInvalidQuery)

	// unknown document type
	_, err = executor.Execute(&Query{
		ContractID:   contractID,
		DocumentType: "vehicle",
	})
	require.ErrorIs(t, err, contract.ErrDocumentTypeNotFound)
}

func TestProve_EqualityRoundtrip(t *testing.T) {
	tree, contracts, executor := queryFixture(t)

	q := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
	}

	proof, err := executor.Prove(q)
	require.NoError(t, err)

	root, err := tree.RootHash()
	require.NoError(t, err)

	c, err := contracts.Get(nil, contractID)
	require.NoError(t, err)

	results, err := VerifyProof(proof, root, c, q)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2", "p3"}, resultIDs(results))
	require.Equal(t, document.StringValue("John"), results[0].Property("firstName"))
}

func TestProve_LimitIsEnforced(t *testing.T) {
	tree, contracts, executor := queryFixture(t)

	q := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
		Limit:        2,
	}

	proof, err := executor.Prove(q)
	require.NoError(t, err)

	root, err := tree.RootHash()
	require.NoError(t, err)
	c, err := contracts.Get(nil, contractID)
	require.NoError(t, err)

	results, err := VerifyProof(proof, root, c, q)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, resultIDs(results))
}

func TestProve_CursorRoundtrip(t *testing.T) {
	tree, contracts, executor := queryFixture(t)

	q := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
		StartAfter:   []byte("p1"),
	}

	proof, err := executor.Prove(q)
	require.NoError(t, err)

	root, err := tree.RootHash()
	require.NoError(t, err)
	c, err := contracts.Get(nil, contractID)
	require.NoError(t, err)

	results, err := VerifyProof(proof, root, c, q)
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3"}, resultIDs(results))
}

func TestProve_InRoundtrip(t *testing.T) {
	tree, contracts, executor := queryFixture(t)

	q := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where: []WhereClause{{
			Property: "lastName",
			Operator: OpIn,
			Values:   []document.Value{document.StringValue("Kennedy"), document.StringValue("Monroe")},
		}},
	}

	proof, err := executor.Prove(q)
	require.NoError(t, err)

	root, err := tree.RootHash()
	require.NoError(t, err)
	c, err := contracts.Get(nil, contractID)
	require.NoError(t, err)

	results, err := VerifyProof(proof, root, c, q)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2", "p3", "p6"}, resultIDs(results))
}

func TestProve_TamperAndStaleness(t *testing.T) {
	tree, contracts, executor := queryFixture(t)

	q := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
	}

	proof, err := executor.Prove(q)
	require.NoError(t, err)

	root, err := tree.RootHash()
	require.NoError(t, err)
	c, err := contracts.Get(nil, contractID)
	require.NoError(t, err)

	tampered := make([]byte, len(proof))
	copy(tampered, proof)
	tampered[len(tampered)/2] ^= 0x01
	_, err = VerifyProof(tampered, root, c, q)
	require.Error(t, err)

	// the proof must not verify for a different query
	other := *q
	other.Where = []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Onassis")}}
	_, err = VerifyProof(proof, root, c, &other)
	require.Error(t, err)

	// nor against a root the state has moved past
	batch, err := tree.Batched()
	require.NoError(t, err)
	documents := document.NewStore(contracts, true)
	require.NoError(t, documents.Create(batch, &document.Document{
		ID:         []byte("p7"),
		ContractID: contractID,
		OwnerID:    []byte("owner-1"),
		Type:       "person",
		Revision:   1,
		Properties: map[string]document.Value{
			"firstName": document.StringValue("Rose"),
			"lastName":  document.StringValue("Kennedy"),
			"age":       document.IntValue(75),
		},
	}))
	require.NoError(t, batch.Commit())

	newRoot, err := tree.RootHash()
	require.NoError(t, err)
	_, err = VerifyProof(proof, newRoot, c, q)
	require.Error(t, err)
}

func TestProve_TruncatedProofRejected(t *testing.T) {
	tree, contracts, executor := queryFixture(t)

	q := &Query{
		ContractID:   contractID,
		DocumentType: "person",
		Where:        []WhereClause{{Property: "lastName", Operator: OpEqual, Value: document.StringValue("Kennedy")}},
	}

	proof, err := executor.Prove(q)
	require.NoError(t, err)

	root, err := tree.RootHash()
	require.NoError(t, err)
	c, err := contracts.Get(nil, contractID)
	require.NoError(t, err)

	// cutting the proof anywhere must fail, never panic or verify
	for _, cut := range []int{1, 5, len(proof) / 2, len(proof) - 1} {
		_, err = VerifyProof(proof[:cut], root, c, q)
		require.Error(t, err)
	}
}
