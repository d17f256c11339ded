// Package book implements the per-symbol limit order book: bootstrap
// from a snapshot, buffered pre-bootstrap diff application, sequence
// continuity validation, gap detection, and self-healing re-bootstrap.
//
// Price and quantity are carried as the exchange's exact decimal
// strings throughout — they are parsed into decimal.Decimal only to
// order price levels and to test a quantity for zero, and are never
// reformatted back onto the wire or into API responses.
package book

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"
)

// PriceLevel is a single (price, quantity) pair as received over the
// wire. A quantity of "0" is the signal to delete the level.
type PriceLevel struct {
	Price string
	Qty   string
}

func priceComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// BookSide holds one side (bids or asks) of a symbol's book, sorted by
// price via an emirpasic/gods treemap. The tree key is a parsed
// decimal.Decimal used purely for ordering; the stored value keeps the
// original strings so callers never see a reformatted number.
type BookSide struct {
	tree *treemap.Map
}

func newBookSide() *BookSide {
	return &BookSide{tree: treemap.NewWith(priceComparator)}
}

// ApplyDiff merges incremental level changes: a zero quantity deletes
// the level, anything else upserts it.
func (s *BookSide) ApplyDiff(levels []PriceLevel) error {
	for _, lv := range levels {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil {
			return err
		}
		qty, err := decimal.NewFromString(lv.Qty)
		if err != nil {
			return err
		}
		if qty.IsZero() {
			s.tree.Remove(price)
		} else {
			s.tree.Put(price, lv)
		}
	}
	return nil
}

// ReplaceAll discards the current side and installs a full snapshot.
// Levels with zero quantity are dropped rather than stored, matching
// invariant #2 (no stored level ever carries a zero quantity).
func (s *BookSide) ReplaceAll(levels []PriceLevel) error {
	s.tree.Clear()
	return s.ApplyDiff(levels)
}

// Size returns the number of distinct price levels currently held.
func (s *BookSide) Size() int {
	return s.tree.Size()
}

// Snapshot copies every level into a price->quantity string map, the
// shape the Read API serializes directly.
func (s *BookSide) Snapshot() map[string]string {
	out := make(map[string]string, s.tree.Size())
	it := s.tree.Iterator()
	for it.Next() {
		lv := it.Value().(PriceLevel)
		out[lv.Price] = lv.Qty
	}
	return out
}

// Depth returns up to n levels. ascending walks from the best (lowest)
// price up, which is what asks want; bids want the reverse.
func (s *BookSide) Depth(n int, ascending bool) []PriceLevel {
	out := make([]PriceLevel, 0, n)
	it := s.tree.Iterator()
	if ascending {
		for it.Next() {
			out = append(out, it.Value().(PriceLevel))
			if len(out) >= n {
				break
			}
		}
		return out
	}
	for it.End(); it.Prev(); {
		out = append(out, it.Value().(PriceLevel))
		if len(out) >= n {
			break
		}
	}
	return out
}
