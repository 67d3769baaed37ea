package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/xwb1989/sqlparser"

	siltdb "github.com/oarkflow/siltdb"
)

// TranslateSQL parses a single SQL statement and maps it 1:1 onto the
// GET/PUT/DEL command grammar (spec §4.3.1's optional SQL-shaped
// surface). Only SELECT ... WHERE id = <literal>, INSERT ... VALUES,
// and DELETE ... WHERE id = <literal> are supported; anything else is
// rejected rather than partially executed. Grounded on the teacher's
// sqldriver/executor_v2.go ExecutorV2 (table:id key construction,
// JSON-encoded row values), narrowed from its full filter/join/update
// engine to the spec's point-lookup command surface.
func TranslateSQL(query string) (*Command, error) {
	stmt, err := sqlparser.Parse(query)
	if err != nil {
		return nil, &siltdb.InvalidCommandError{Reason: "sql parse error: " + err.Error()}
	}

	switch n := stmt.(type) {
	case *sqlparser.Select:
		return translateSelect(n)
	case *sqlparser.Insert:
		return translateInsert(n)
	case *sqlparser.Delete:
		return translateDelete(n)
	default:
		return nil, &siltdb.InvalidCommandError{Reason: "unsupported SQL statement kind"}
	}
}

func translateSelect(n *sqlparser.Select) (*Command, error) {
	table, err := soleTableName(n.From)
	if err != nil {
		return nil, err
	}
	id, err := equalityID(n.Where)
	if err != nil {
		return nil, err
	}
	return &Command{Op: OpGet, Key: []byte(fmt.Sprintf("%s:%s", table, id))}, nil
}

func translateDelete(n *sqlparser.Delete) (*Command, error) {
	table, err := soleTableName(n.TableExprs)
	if err != nil {
		return nil, err
	}
	id, err := equalityID(n.Where)
	if err != nil {
		return nil, err
	}
	return &Command{Op: OpDelete, Key: []byte(fmt.Sprintf("%s:%s", table, id))}, nil
}

func translateInsert(n *sqlparser.Insert) (*Command, error) {
	table := sqlparser.String(n.Table.Name)
	var cols []string
	for _, col := range n.Columns {
		cols = append(cols, col.String())
	}
	rows, ok := n.Rows.(sqlparser.Values)
	if !ok || len(rows) != 1 {
		return nil, &siltdb.InvalidCommandError{Reason: "INSERT must supply exactly one VALUES row"}
	}

	row := rows[0]
	data := make(map[string]string, len(row))
	var id string
	for i, expr := range row {
		if i >= len(cols) {
			return nil, &siltdb.InvalidCommandError{Reason: "more values than columns"}
		}
		lit, err := literalString(expr)
		if err != nil {
			return nil, err
		}
		data[cols[i]] = lit
		if cols[i] == "id" {
			id = lit
		}
	}
	if id == "" {
		return nil, &siltdb.InvalidCommandError{Reason: "INSERT requires an id column"}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Command{Op: OpPut, Key: []byte(fmt.Sprintf("%s:%s", table, id)), Value: payload}, nil
}

func soleTableName(from sqlparser.TableExprs) (string, error) {
	if len(from) != 1 {
		return "", &siltdb.InvalidCommandError{Reason: "exactly one table is supported"}
	}
	aliased, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", &siltdb.InvalidCommandError{Reason: "joins are not supported"}
	}
	return sqlparser.String(aliased.Expr), nil
}

// equalityID requires a WHERE clause of exactly the form `id = <literal>`,
// matching the command grammar's single-key point lookup.
func equalityID(where *sqlparser.Where) (string, error) {
	if where == nil {
		return "", &siltdb.InvalidCommandError{Reason: "WHERE id = <value> is required"}
	}
	cmp, ok := where.Expr.(*sqlparser.ComparisonExpr)
	if !ok || cmp.Operator != sqlparser.EqualStr {
		return "", &siltdb.InvalidCommandError{Reason: "only WHERE id = <value> is supported"}
	}
	col, ok := cmp.Left.(*sqlparser.ColName)
	if !ok || col.Name.String() != "id" {
		return "", &siltdb.InvalidCommandError{Reason: "only equality on id is supported"}
	}
	return literalString(cmp.Right)
}

func literalString(expr sqlparser.Expr) (string, error) {
	val, ok := expr.(*sqlparser.SQLVal)
	if !ok {
		return "", &siltdb.InvalidCommandError{Reason: "only literal values are supported"}
	}
	return string(val.Val), nil
}
