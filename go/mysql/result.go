/*
Copyright 2024 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import "strconv"

// Field describes one column of a result set, as sent by the server in
// a column definition packet.
type Field struct {
	// Name is the column alias used in the query.
	Name string
	// OrgName is the underlying column name, if any.
	OrgName string
	// Table is the table alias used in the query.
	Table string
	// OrgTable is the underlying table name, if any.
	OrgTable string
	// Database is the schema the column comes from.
	Database string

	// Charset is the connection character set id of the column.
	Charset uint32
	// ColumnLength is the maximum display length.
	ColumnLength uint32
	// Type is the wire type of the column values.
	Type FieldType
	// Flags carries the Flag* column flags.
	Flags uint32
	// Decimals is the scale for decimal types.
	Decimals uint32
}

// Row is one row of a result set. A nil cell is a SQL NULL; every
// other cell is the canonical text rendering of the value (binary rows
// are normalized to the same form when decoded).
type Row [][]byte

// Result is the structure returned by the mysql library. It contains
// everything a query execution produced.
type Result struct {
	// Fields is the column metadata. Only filled in if the caller
	// asked for it.
	Fields []*Field
	// Rows is the result rows. Empty for DMLs and DDLs.
	Rows []Row

	// RowsAffected and InsertID come from the concluding OK packet.
	RowsAffected uint64
	InsertID     uint64

	// StatusFlags is the server status after the statement.
	StatusFlags uint16
	// Warnings is the warning count after the statement.
	Warnings uint16

	// Info is the human readable status text, e.g. the matched/changed
	// counts of an UPDATE.
	Info string

	// SessionStateChanges is the raw session-track payload, if the
	// server sent one.
	SessionStateChanges string
}

// IsMoreResultsExists returns true if the server flagged a pending
// result set after this one.
func (result *Result) IsMoreResultsExists() bool {
	return result.StatusFlags&ServerMoreResultsExists != 0
}

// IsInTransaction returns true if the server reports an open
// transaction on the connection.
func (result *Result) IsInTransaction() bool {
	return result.StatusFlags&ServerStatusInTrans != 0
}

// Value returns the cell at the given row and column as a string, and
// whether it was non-NULL. Convenience for tests and simple callers.
func (result *Result) Value(row, col int) (string, bool) {
	if row >= len(result.Rows) || col >= len(result.Rows[row]) {
		return "", false
	}
	cell := result.Rows[row][col]
	if cell == nil {
		return "", false
	}
	return string(cell), true
}

// Uint64Value returns the cell at the given row and column parsed as an
// unsigned integer. NULL and parse failures return an error.
func (result *Result) Uint64Value(row, col int) (uint64, error) {
	s, ok := result.Value(row, col)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(s, 10, 64)
}
