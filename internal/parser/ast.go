// Package parser wraps github.com/pganalyze/pg_query_go/v6 and produces
// this module's own lightweight AST, decoupling the executor from
// pg_query_go's protobuf node shapes (spec §4.7/SPEC_FULL.md §4.7).
package parser

import "github.com/kvsql/kvsql/internal/value"

// Statement is the root of every parsed SQL statement this engine accepts.
type Statement interface{ isStatement() }

type SelectStmt struct {
	With        []CTE
	Distinct    bool
	DistinctOn  []Expr
	Targets     []SelectItem
	From        []FromItem
	Where       Expr
	GroupBy     []Expr
	Having      Expr
	OrderBy     []OrderItem
	Limit       Expr
	Offset      Expr
	SetOp       SetOpKind // none, union, unionAll, intersect, except
	Left, Right *SelectStmt
}

type SetOpKind int

const (
	SetOpNone SetOpKind = iota
	SetOpUnion
	SetOpUnionAll
	SetOpIntersect
	SetOpExcept
)

type CTE struct {
	Name      string
	Columns   []string
	Query     *SelectStmt
	Recursive bool
}

type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool   // SELECT * or t.*
	Table string // qualifier for t.*
}

type FromItem struct {
	Schema, Table string
	Alias         string
	Subquery      *SelectStmt
	Join          *JoinItem
}

type JoinItem struct {
	Kind  JoinKind
	Left  *FromItem
	Right *FromItem
	On    Expr
	Using []string
}

type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
	JoinLateral
)

type OrderItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst bool
	NullsSet   bool // whether NULLS FIRST/LAST was explicit
}

type InsertStmt struct {
	Schema, Table    string
	Columns          []string
	Values           [][]Expr
	Select           *SelectStmt
	OnConflict       *OnConflict
	ReturningList    []SelectItem
}

type OnConflict struct {
	Columns  []string // conflict target columns; empty means "any constraint"
	DoUpdate bool     // false means DO NOTHING
	Sets     []UpdateSet
	Where    Expr
}

type UpdateStmt struct {
	Schema, Table string
	Alias         string
	Sets          []UpdateSet
	Where         Expr
	ReturningList []SelectItem
}

type UpdateSet struct {
	Column string
	Value  Expr
}

type DeleteStmt struct {
	Schema, Table string
	Alias         string
	Where         Expr
	ReturningList []SelectItem
}

type ColumnDef struct {
	Name       string
	Type       value.Type
	NotNull    bool
	HasDefault bool
	Default    Expr
	PrimaryKey bool
}

type CreateTableStmt struct {
	Schema, Table string
	IfNotExists   bool
	Columns       []ColumnDef
	PrimaryKey    []string
	ForeignKeys   []ForeignKeyDef
	Checks        []CheckDef
}

type ForeignKeyDef struct {
	Columns    []string
	RefSchema  string
	RefTable   string
	RefColumns []string
	OnDelete   string
	OnUpdate   string
}

type CheckDef struct {
	Name string
	Expr Expr
}

type DropTableStmt struct {
	Schema, Table string
	IfExists      bool
	Cascade       bool
}

type CreateIndexStmt struct {
	Name          string
	Schema, Table string
	Unique        bool
	Columns       []IndexColumnDef
}

type IndexColumnDef struct {
	Name string
	Desc bool
}

type CreateViewStmt struct {
	Schema, Name string
	Query        *SelectStmt
}

type DropViewStmt struct {
	Schema, Name string
	IfExists     bool
}

type TxnControlKind int

const (
	TxnBegin TxnControlKind = iota
	TxnCommit
	TxnRollback
	TxnSavepoint
	TxnRelease
	TxnRollbackTo
)

type TxnControlStmt struct {
	Kind       TxnControlKind
	Name       string // savepoint name, where applicable
	Isolation  string // "", "read committed", "repeatable read", "serializable"
}

type SetStmt struct {
	Name  string
	Value string
}

// RawPassthroughStmt wraps a statement pg_query_go parsed successfully but
// this engine doesn't implement; Exec on it raises FeatureNotSupported.
type RawPassthroughStmt struct {
	SQL  string
	Kind string
}

func (*SelectStmt) isStatement()         {}
func (*InsertStmt) isStatement()         {}
func (*UpdateStmt) isStatement()         {}
func (*DeleteStmt) isStatement()         {}
func (*CreateTableStmt) isStatement()    {}
func (*DropTableStmt) isStatement()      {}
func (*CreateIndexStmt) isStatement()    {}
func (*CreateViewStmt) isStatement()     {}
func (*DropViewStmt) isStatement()       {}
func (*TxnControlStmt) isStatement()     {}
func (*SetStmt) isStatement()            {}
func (*RawPassthroughStmt) isStatement() {}

// Expr is this engine's own expression AST, evaluated by internal/eval.
type Expr interface{ isExpr() }

type Literal struct{ Value value.Value }

type ColumnRef struct {
	Table  string // qualifier, empty if unqualified
	Column string
}

type ParamRef struct{ Ordinal int } // $1, $2, ...

type Star struct{ Table string }

type BinaryExpr struct {
	Op          string // "+","-","*","/","%","=","<>","<","<=",">",">=","AND","OR","LIKE","ILIKE","SIMILAR TO","~","~*","||","->","->>","@>","<@","?","?|","?&","#>","#>>"
	Left, Right Expr
}

type UnaryExpr struct {
	Op      string // "-","NOT","IS NULL","IS NOT NULL","ISTRUE","ISFALSE"
	Operand Expr
}

type FuncCall struct {
	Schema      string
	Name        string
	Args        []Expr
	Distinct    bool
	Star        bool // COUNT(*)
	OrderBy     []OrderItem
	Filter      Expr
	Over        *WindowSpec // non-nil for window function calls
}

type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
	FrameStart  *FrameBound
	FrameEnd    *FrameBound
}

type FrameBoundKind int

const (
	FrameUnboundedPreceding FrameBoundKind = iota
	FrameOffsetPreceding
	FrameCurrentRow
	FrameOffsetFollowing
	FrameUnboundedFollowing
)

type FrameBound struct {
	Kind   FrameBoundKind
	Offset Expr
}

type CaseExpr struct {
	Arg     Expr // non-nil for simple CASE x WHEN ...
	Whens   []WhenClause
	Else    Expr
}

type WhenClause struct {
	Cond   Expr
	Result Expr
}

type Cast struct {
	Expr Expr
	Type value.Type
}

type ArrayExpr struct {
	Elements []Expr
	ElemType value.Type
}

// SubqueryExpr covers scalar, EXISTS, IN, and ANY/ALL subquery forms.
type SubqueryExpr struct {
	Kind  SubqueryKind
	Query *SelectStmt
	Expr  Expr // left-hand side for IN/ANY/ALL; nil for scalar/EXISTS
	Op    string // comparison operator for ANY/ALL
}

type SubqueryKind int

const (
	SubqueryScalar SubqueryKind = iota
	SubqueryExists
	SubqueryIn
	SubqueryAny
	SubqueryAll
)

func (*Literal) isExpr()      {}
func (*ColumnRef) isExpr()    {}
func (*ParamRef) isExpr()     {}
func (*Star) isExpr()         {}
func (*BinaryExpr) isExpr()   {}
func (*UnaryExpr) isExpr()    {}
func (*FuncCall) isExpr()     {}
func (*CaseExpr) isExpr()     {}
func (*Cast) isExpr()         {}
func (*ArrayExpr) isExpr()    {}
func (*SubqueryExpr) isExpr() {}
