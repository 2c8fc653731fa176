// Package fake generates randomized catalog tables and rows for
// round-trip and property tests, the way the teacher's cmd/faker_test
// exercises go-faker's UUID/name/email generators - repurposed here from
// a one-off determinism demo into reusable table/row fixtures.
//
// Generation is seeded via Seed so a failing test prints a reproducible
// seed instead of a one-off flake; cmd/faker_test documents the exact
// go-faker crypto-source ordering hazard this seeding has to avoid.
package fake

import (
	"fmt"
	"math/rand"

	faker "github.com/go-faker/faker/v4"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/kvsql/kvsql/pkg/prng"
)

// Seed makes generation reproducible: it points both go-faker's own
// crypto source and this package's numeric RNG at the same deterministic
// stream, so two calls with the same n after the same Seed produce
// identical rows.
func Seed(seed int64) {
	faker.SetCryptoSource(prng.New(seed))
	numRand = rand.New(rand.NewSource(seed))
}

var numRand = rand.New(rand.NewSource(1))

// Table returns a small fixed-shape catalog.Table: an int8 primary key
// plus a name/email/score/active column spread covering the common
// scalar types, named schema.name.
func Table(schema, name string) *catalog.Table {
	return &catalog.Table{
		Schema: schema,
		Name:   name,
		Columns: []catalog.Column{
			{Name: "id", Ordinal: 0, Type: value.TypeInt8, NotNull: true},
			{Name: "name", Ordinal: 1, Type: value.TypeText},
			{Name: "email", Ordinal: 2, Type: value.TypeText},
			{Name: "score", Ordinal: 3, Type: value.TypeFloat8},
			{Name: "active", Ordinal: 4, Type: value.TypeBool},
		},
		PK: []string{"id"},
	}
}

// Row generates one randomized row matching Table's column order. id is
// supplied explicitly since a faked row has no notion of a sequence.
func Row(id int64) []value.Value {
	return []value.Value{
		value.Int8(id),
		value.Text(faker.Name()),
		value.Text(faker.Email()),
		value.Float8(numRand.Float64() * 100),
		value.Bool(numRand.Intn(2) == 0),
	}
}

// Rows generates n sequential rows starting at id 1, for seeding a
// table under test or benchmark.
func Rows(n int) [][]value.Value {
	out := make([][]value.Value, n)
	for i := 0; i < n; i++ {
		out[i] = Row(int64(i + 1))
	}
	return out
}

// InsertSQL renders one Row as a literal-valued INSERT statement, for
// tests and cmd/kvsql-bench that need to drive the engine through its
// own SQL text parser rather than its internal row representation.
func InsertSQL(schema, table string, row []value.Value) string {
	return fmt.Sprintf(
		"INSERT INTO %s.%s (id, name, email, score, active) VALUES (%d, '%s', '%s', %v, %v)",
		schema, table,
		row[0].Int,
		escapeLiteral(row[1].Str),
		escapeLiteral(row[2].Str),
		row[3].Float,
		row[4].Bool,
	)
}

func escapeLiteral(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
