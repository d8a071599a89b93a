package models

// Side — решение стратегии: "BUY"/"SELL" или пустая строка.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal — ответ стратегии по последней закрытой свече.
type Signal struct {
	Asset string
	Side  Side
	RSI   float64
	Price float64
}
