package postgres

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingPartition is returned when a query is built without its tenant partition value
var ErrMissingPartition = errors.New("partition value is required")

// PartitionedQuery builds statements that always filter on a partition column.
// Every read and bulk delete of tenant data goes through it, so the filter cannot be left out.
type PartitionedQuery struct {
	table      string
	conditions []string
	args       []interface{}
	orderBy    string
	limit      int
}

// Partitioned starts a query on table scoped to column = value
func Partitioned(table, column, value string) (*PartitionedQuery, error) {
	if value == "" {
		return nil, fmt.Errorf("%s.%s: %w", table, column, ErrMissingPartition)
	}
	return &PartitionedQuery{
		table:      table,
		conditions: []string{fmt.Sprintf("%s = $1", column)},
		args:       []interface{}{value},
	}, nil
}

// And adds an equality filter
func (q *PartitionedQuery) And(column string, value interface{}) *PartitionedQuery {
	q.args = append(q.args, value)
	q.conditions = append(q.conditions, fmt.Sprintf("%s = $%d", column, len(q.args)))
	return q
}

// AndIf adds an equality filter only when value is non-empty
func (q *PartitionedQuery) AndIf(column, value string) *PartitionedQuery {
	if value == "" {
		return q
	}
	return q.And(column, value)
}

// OrderBy sets the ORDER BY clause
func (q *PartitionedQuery) OrderBy(clause string) *PartitionedQuery {
	q.orderBy = clause
	return q
}

// Limit caps the number of rows; zero or negative means no limit
func (q *PartitionedQuery) Limit(n int) *PartitionedQuery {
	q.limit = n
	return q
}

func (q *PartitionedQuery) where() string {
	return strings.Join(q.conditions, " AND ")
}

// Select renders a SELECT statement
func (q *PartitionedQuery) Select(columns string) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s", columns, q.table, q.where())
	if q.orderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s", q.orderBy)
	}
	args := append([]interface{}(nil), q.args...)
	if q.limit > 0 {
		args = append(args, q.limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// Delete renders a DELETE statement. With a limit, at most that many rows are removed.
func (q *PartitionedQuery) Delete() (string, []interface{}) {
	args := append([]interface{}(nil), q.args...)
	if q.limit <= 0 {
		return fmt.Sprintf("DELETE FROM %s WHERE %s", q.table, q.where()), args
	}
	args = append(args, q.limit)
	return fmt.Sprintf(
		"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE %s LIMIT $%d)",
		q.table, q.table, q.where(), len(args),
	), args
}
