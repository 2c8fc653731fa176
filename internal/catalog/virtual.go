package catalog

import "github.com/kvsql/kvsql/internal/value"

// virtualCatalogName stands in for PostgreSQL's per-connection database
// name in the synthesized information_schema/pg_catalog rows below; this
// engine has exactly one catalog namespace, so it is a constant rather
// than something resolved per session.
const virtualCatalogName = "kvsql"

var virtualSchemas = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
}

// IsVirtualSchema reports whether schema names one of the built-in
// introspection schemas this engine synthesizes rows for on the fly,
// rather than one stored in the KV catalog namespace (spec.md §9,
// SPEC_FULL.md §9: "information_schema views shipped").
func IsVirtualSchema(schema string) bool {
	return virtualSchemas[schema]
}

// VirtualTable resolves one of the synthesized information_schema/
// pg_catalog views by qualified name against the cache's current
// snapshot, returning its column names (in the order the caller should
// project them) and materialized rows. ok is false for any name this
// engine doesn't stub out.
func (c *Cache) VirtualTable(schema, name string) (columns []string, rows [][]value.Value, ok bool) {
	switch schema {
	case "information_schema":
		switch name {
		case "tables":
			return c.isTables()
		case "columns":
			return c.isColumns()
		case "table_constraints":
			return c.isTableConstraints()
		case "key_column_usage":
			return c.isKeyColumnUsage()
		}
	case "pg_catalog":
		switch name {
		case "pg_type":
			return pgType()
		case "pg_namespace":
			return pgNamespace()
		}
	}
	return nil, nil, false
}

func (c *Cache) isTables() ([]string, [][]value.Value, bool) {
	cols := []string{"table_catalog", "table_schema", "table_name", "table_type"}
	var rows [][]value.Value
	for _, t := range c.ListTables("") {
		rows = append(rows, []value.Value{
			value.Text(virtualCatalogName), value.Text(t.Schema), value.Text(t.Name), value.Text("BASE TABLE"),
		})
	}
	for _, v := range c.Snapshot().Views {
		rows = append(rows, []value.Value{
			value.Text(virtualCatalogName), value.Text(v.Schema), value.Text(v.Name), value.Text("VIEW"),
		})
	}
	return cols, rows, true
}

func (c *Cache) isColumns() ([]string, [][]value.Value, bool) {
	cols := []string{
		"table_catalog", "table_schema", "table_name", "column_name",
		"ordinal_position", "is_nullable", "data_type", "column_default",
	}
	var rows [][]value.Value
	for _, t := range c.ListTables("") {
		for _, col := range t.Columns {
			nullable := "YES"
			if col.NotNull {
				nullable = "NO"
			}
			def := value.Null(value.TypeText)
			if col.HasDefault {
				def = value.Text(col.DefaultSQL)
			}
			rows = append(rows, []value.Value{
				value.Text(virtualCatalogName), value.Text(t.Schema), value.Text(t.Name),
				value.Text(col.Name), value.Int4(int32(col.Ordinal) + 1),
				value.Text(nullable), value.Text(col.Type.String()), def,
			})
		}
	}
	return cols, rows, true
}

func (c *Cache) isTableConstraints() ([]string, [][]value.Value, bool) {
	cols := []string{
		"constraint_catalog", "constraint_schema", "constraint_name",
		"table_schema", "table_name", "constraint_type",
	}
	var rows [][]value.Value
	for _, t := range c.ListTables("") {
		if len(t.PK) > 0 {
			rows = append(rows, constraintRow(t.Schema, t.Name, t.Name+"_pkey", "PRIMARY KEY"))
		}
		for _, fk := range t.FKs {
			rows = append(rows, constraintRow(t.Schema, t.Name, fk.Name, "FOREIGN KEY"))
		}
		for _, chk := range t.Checks {
			rows = append(rows, constraintRow(t.Schema, t.Name, chk.Name, "CHECK"))
		}
		for _, idx := range t.Indexes {
			if idx.Unique && !idx.Primary {
				rows = append(rows, constraintRow(t.Schema, t.Name, idx.Name, "UNIQUE"))
			}
		}
	}
	return cols, rows, true
}

func constraintRow(schema, table, name, kind string) []value.Value {
	return []value.Value{
		value.Text(virtualCatalogName), value.Text(schema), value.Text(name),
		value.Text(schema), value.Text(table), value.Text(kind),
	}
}

func (c *Cache) isKeyColumnUsage() ([]string, [][]value.Value, bool) {
	cols := []string{
		"constraint_catalog", "constraint_schema", "constraint_name",
		"table_catalog", "table_schema", "table_name", "column_name", "ordinal_position",
	}
	var rows [][]value.Value
	for _, t := range c.ListTables("") {
		for i, colName := range t.PK {
			rows = append(rows, keyColumnRow(t.Schema, t.Name+"_pkey", t.Schema, t.Name, colName, i+1))
		}
		for _, fk := range t.FKs {
			for i, colName := range fk.Columns {
				rows = append(rows, keyColumnRow(t.Schema, fk.Name, t.Schema, t.Name, colName, i+1))
			}
		}
		for _, idx := range t.Indexes {
			if idx.Unique && !idx.Primary {
				for i, ic := range idx.Columns {
					rows = append(rows, keyColumnRow(t.Schema, idx.Name, t.Schema, t.Name, ic.Name, i+1))
				}
			}
		}
	}
	return cols, rows, true
}

func keyColumnRow(constraintSchema, constraintName, tableSchema, tableName, column string, ordinal int) []value.Value {
	return []value.Value{
		value.Text(virtualCatalogName), value.Text(constraintSchema), value.Text(constraintName),
		value.Text(virtualCatalogName), value.Text(tableSchema), value.Text(tableName),
		value.Text(column), value.Int4(int32(ordinal)),
	}
}

// Fixed synthetic OIDs for the namespaces and base types a freshly
// connected ORM's first introspection query probes for. These match
// PostgreSQL's real well-known OIDs for the base scalar types (spec.md
// §9 "minimal stubs", not full catalog emulation) so a client that
// caches OID-to-typname mappings from a real server still gets sane
// values, without this engine claiming full pg_catalog fidelity.
const (
	oidNamespacePgCatalog         int32 = 11
	oidNamespaceInformationSchema int32 = 13000
	oidNamespacePublic            int32 = 2200
)

func pgNamespace() ([]string, [][]value.Value, bool) {
	cols := []string{"oid", "nspname"}
	rows := [][]value.Value{
		{value.Int4(oidNamespacePgCatalog), value.Text("pg_catalog")},
		{value.Int4(oidNamespaceInformationSchema), value.Text("information_schema")},
		{value.Int4(oidNamespacePublic), value.Text("public")},
	}
	return cols, rows, true
}

var pgBaseTypes = []struct {
	name string
	oid  int32
}{
	{"bool", 16},
	{"bytea", 17},
	{"int8", 20},
	{"int2", 21},
	{"int4", 23},
	{"text", 25},
	{"json", 114},
	{"date", 1082},
	{"time", 1083},
	{"timestamp", 1114},
	{"timestamptz", 1184},
	{"interval", 1186},
	{"numeric", 1700},
	{"uuid", 2950},
	{"float8", 701},
}

func pgType() ([]string, [][]value.Value, bool) {
	cols := []string{"oid", "typname", "typnamespace"}
	rows := make([][]value.Value, len(pgBaseTypes))
	for i, e := range pgBaseTypes {
		rows[i] = []value.Value{value.Int4(e.oid), value.Text(e.name), value.Int4(oidNamespacePgCatalog)}
	}
	return cols, rows, true
}
