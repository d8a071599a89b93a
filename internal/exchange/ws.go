package exchange

import (
	"context"
	"encoding/json"
	"time"

	"po_bot/pkg/logger"

	"po_bot/internal/models"
)

// StreamQuotes — один WebSocket с пачкой активов в подписке.
// Котировки не требуют авторизации, фид живёт отдельно от торговых сессий.
func (c *Client) StreamQuotes(ctx context.Context, assets []string) <-chan models.Quote {
	ch := make(chan models.Quote)
	go func() {
		defer close(ch)

		if len(assets) == 0 {
			return
		}

		for {
			logger.Info("[WS] quotes connect, %d assets", len(assets))
			conn, _, err := c.wsDialer.Dial(c.wsURL, nil)
			if err != nil {
				logger.Error("[WS] quotes dial error: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			sub := map[string]any{
				"op":     "subscribe",
				"stream": "quotes",
				"assets": assets,
			}
			if err := conn.WriteJSON(sub); err != nil {
				logger.Error("[WS] quotes subscribe error: %v", err)
				_ = conn.Close()
				continue
			}

			// keepalive ping каждые 20s — иначе брокер рвёт соединение
			stopPing := make(chan struct{})
			go func() {
				t := time.NewTicker(20 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-stopPing:
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"op": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					logger.Error("[WS] quotes read error: %v", err)
					close(stopPing)
					_ = conn.Close()
					break
				}

				var frame struct {
					Stream string `json:"stream"`
					Data   struct {
						Asset string `json:"asset"`
						Bid   string `json:"bid"`
						Ask   string `json:"ask"`
						Ts    int64  `json:"ts"`
					} `json:"data"`
				}
				if err := json.Unmarshal(msg, &frame); err != nil {
					continue
				}
				if frame.Stream != "quotes" || frame.Data.Asset == "" {
					continue
				}

				q := models.Quote{
					Asset: frame.Data.Asset,
					Bid:   parseFloat(frame.Data.Bid),
					Ask:   parseFloat(frame.Data.Ask),
					Time:  time.Unix(frame.Data.Ts, 0),
				}
				if q.Bid <= 0 {
					continue
				}

				c.SetPrice(q.Asset, q)
				select {
				case ch <- q:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(time.Second)
			}
		}
	}()
	return ch
}
