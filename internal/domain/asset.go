package domain

import (
	"fmt"
	"strings"
)

// AssetID identifies a fungible asset on a given ledger.
type AssetID string

// VenueID identifies a trading venue.
type VenueID string

// Pair is a base/quote trading pair.
type Pair struct {
	Base  AssetID
	Quote AssetID
}

func (p Pair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("domain: invalid pair %q", s)
	}
	return Pair{Base: AssetID(base), Quote: AssetID(quote)}, nil
}

// VenuePair is an ordered (buy, sell) venue combination.
type VenuePair struct {
	Buy  VenueID
	Sell VenueID
}

func (vp VenuePair) String() string {
	return string(vp.Buy) + "->" + string(vp.Sell)
}

// Key returns an order-independent key for the venue pair.
func (vp VenuePair) Key() string {
	a, b := string(vp.Buy), string(vp.Sell)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
