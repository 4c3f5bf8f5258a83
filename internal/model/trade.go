package model

import "time"

// TradeEvent represents a single trade from the live feed.
// TradeTS is the exchange event timestamp in epoch milliseconds.
type TradeEvent struct {
	Market  string  `json:"cd"`
	TradeTS int64   `json:"tms"`
	Volume  float64 `json:"tv"`
}

// Time returns the trade timestamp as UTC time.
func (t TradeEvent) Time() time.Time {
	return time.Unix(0, t.TradeTS*int64(time.Millisecond)).UTC()
}
