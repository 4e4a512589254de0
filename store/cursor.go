package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-price-graph/models"
)

type cursor struct {
	Sort Sort   `json:"s"`
	Key  string `json:"k"`
	ID   string `json:"id"`
}

func encodeCursor(sort Sort, it *models.Item) string {
	c := cursor{Sort: sort, ID: it.ID}
	switch sort {
	case SortLastChanged:
		c.Key = strconv.FormatInt(it.LastChangedAt(), 10)
	case SortUpdated:
		c.Key = strconv.FormatInt(it.UpdatedAt, 10)
	default:
		c.Key = it.Name
	}
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(sort Sort, s string) (*cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Sort != sort {
		return nil, fmt.Errorf("%w: issued for sort %q", ErrInvalidCursor, c.Sort)
	}
	if sort != SortName {
		if _, err := strconv.ParseInt(c.Key, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	}
	return &c, nil
}

// intKey is only called on cursors that passed decodeCursor.
func (c *cursor) intKey() int64 {
	n, _ := strconv.ParseInt(c.Key, 10, 64)
	return n
}

// scanSQL builds the keyset query for sort. ph renders the n-th (1-based)
// placeholder for the target dialect.
func scanSQL(sort Sort, withCursor bool, ph func(int) string) string {
	var column, dir, cmp string
	switch sort {
	case SortLastChanged:
		column, dir, cmp = "last_changed_at", "DESC", "<"
	case SortUpdated:
		column, dir, cmp = "updated_at", "DESC", "<"
	default:
		column, dir, cmp = "name", "ASC", ">"
	}

	var b strings.Builder
	b.WriteString("SELECT id, name, url, created_at, updated_at FROM items")
	n := 1
	if withCursor {
		fmt.Fprintf(&b, " WHERE (%s %s %s OR (%s = %s AND id %s %s))",
			column, cmp, ph(1), column, ph(2), cmp, ph(3))
		n = 4
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s LIMIT %s", column, dir, dir, ph(n))
	return b.String()
}
