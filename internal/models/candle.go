package models

import "time"

// Candle — одна свеча фиксированного интервала.
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Quote — последняя котировка по активу (для /price).
type Quote struct {
	Asset string
	Bid   float64
	Ask   float64
	Time  time.Time
}
