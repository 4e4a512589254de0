package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ChangeTolerance is the smallest difference between two known prices that
// counts as a price change.
var ChangeTolerance = decimal.RequireFromString("0.01")

// Entry is one observed price change.
type Entry struct {
	ObservedAt int64 `json:"observed_at"`
	Price      Price `json:"price"`
}

// PriceHistory is a change-only price log read newest-first.
//
// Timestamps strictly decrease from the head and no two adjacent entries
// carry the same logical price. The log only ever grows at the head, which
// is the end of the underlying oldest-first slice.
type PriceHistory struct {
	entries []Entry
}

// NewPriceHistory builds a history from entries given newest-first.
func NewPriceHistory(newestFirst ...Entry) PriceHistory {
	h := PriceHistory{entries: make([]Entry, len(newestFirst))}
	for i, e := range newestFirst {
		h.entries[len(newestFirst)-1-i] = e
	}
	return h
}

// Len returns the number of recorded changes.
func (h *PriceHistory) Len() int {
	return len(h.entries)
}

// At returns the i-th entry counting from the newest (0).
func (h *PriceHistory) At(i int) Entry {
	return h.entries[len(h.entries)-1-i]
}

// Head returns up to n of the newest entries, newest-first.
func (h *PriceHistory) Head(n int) []Entry {
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.At(i))
	}
	return out
}

// Entries returns a newest-first copy of the log.
func (h *PriceHistory) Entries() []Entry {
	return h.Head(len(h.entries))
}

// Restore appends an entry loaded from storage as the new head. Stores
// rebuild a log oldest-first with it; it does not apply the change rules.
func (h *PriceHistory) Restore(e Entry) {
	h.entries = append(h.entries, e)
}

// Clone returns a copy that shares no entries with h.
func (h PriceHistory) Clone() PriceHistory {
	return PriceHistory{entries: append([]Entry(nil), h.entries...)}
}

// Current returns the most recent price, or unknown for an empty log.
func (h *PriceHistory) Current() Price {
	if len(h.entries) == 0 {
		return Unknown()
	}
	return h.At(0).Price
}

// LastChangedAt returns the head timestamp, or 0 for an empty log.
func (h *PriceHistory) LastChangedAt() int64 {
	if len(h.entries) == 0 {
		return 0
	}
	return h.At(0).ObservedAt
}

// Record prepends price if it differs from the current one and reports
// whether an entry was added. The first observation is always recorded.
func (h *PriceHistory) Record(price Price, observedAt int64) bool {
	if len(h.entries) > 0 {
		head := h.At(0)
		if observedAt <= head.ObservedAt {
			return false
		}
		if SamePrice(head.Price, price) {
			return false
		}
	}
	h.entries = append(h.entries, Entry{ObservedAt: observedAt, Price: price})
	return true
}

type historyJSON struct {
	Entries []Entry `json:"entries"`
}

// MarshalJSON encodes the log newest-first.
func (h PriceHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyJSON{Entries: h.Entries()})
}

// UnmarshalJSON decodes a newest-first log.
func (h *PriceHistory) UnmarshalJSON(data []byte) error {
	var v historyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*h = NewPriceHistory(v.Entries...)
	return nil
}

// SamePrice reports whether two prices are indistinguishable for history
// purposes: both unknown, or both known and closer than ChangeTolerance.
func SamePrice(a, b Price) bool {
	if !a.Known() && !b.Known() {
		return true
	}
	if a.Known() != b.Known() {
		return false
	}
	return a.amount.Sub(b.amount).Abs().LessThan(ChangeTolerance)
}
