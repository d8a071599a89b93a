package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"po_bot/internal/models"
)

// Client — REST-сессия бинарного брокера + WS для котировок.
type Client struct {
	baseURL string
	wsURL   string

	http     *http.Client
	wsDialer *websocket.Dialer

	email    string
	password string
	account  models.Mode

	mu     sync.RWMutex
	token  string
	prices map[string]models.Quote
}

type Config struct {
	BaseURL string
	WSURL   string
}

func NewClient(cfg Config, creds models.Credentials, account models.Mode) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		wsURL:    cfg.WSURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		wsDialer: &websocket.Dialer{},
		email:    creds.Email,
		password: creds.Password,
		account:  account,
		prices:   make(map[string]models.Quote),
	}
}

// NewFactory — продакшн-фабрика сессий для раннеров.
func NewFactory(cfg Config) Factory {
	return func(creds models.Credentials, account models.Mode) Session {
		return NewClient(cfg, creds, account)
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.email == "" || c.password == "" {
		return ErrNoCredentials
	}

	body, _ := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
		"account":  string(c.account),
	})
	rb, status, err := c.do(ctx, http.MethodPost, "/api/v2/login", body, false)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return errors.Wrapf(ErrAuth, "login %s", c.email)
	}
	if status/100 != 2 {
		return errors.Wrapf(ErrConnectivity, "login http %d: %s", status, rb)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rb, &resp); err != nil || resp.Token == "" {
		return errors.Wrap(ErrConnectivity, "login: bad payload")
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	rb, status, err := c.do(ctx, http.MethodGet, "/api/v2/balance", nil, true)
	if err != nil {
		return 0, err
	}
	if status/100 != 2 {
		return 0, errors.Wrapf(ErrConnectivity, "balance http %d", status)
	}
	var resp struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(rb, &resp); err != nil {
		return 0, errors.Wrap(ErrConnectivity, "balance: bad payload")
	}
	return resp.Balance, nil
}

func (c *Client) GetCandles(ctx context.Context, asset string, intervalSec, count int) ([]models.Candle, error) {
	path := fmt.Sprintf("/api/v2/candles?asset=%s&period=%d&count=%d", asset, intervalSec, count)
	rb, status, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, errors.Wrapf(ErrConnectivity, "candles http %d", status)
	}

	// формат data: [ts,o,h,l,c]
	var resp struct {
		Candles [][]float64 `json:"candles"`
	}
	if err := json.Unmarshal(rb, &resp); err != nil {
		return nil, errors.Wrap(ErrConnectivity, "candles: bad payload")
	}

	out := make([]models.Candle, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		if len(row) < 5 {
			continue
		}
		out = append(out, models.Candle{
			Time:  time.Unix(int64(row[0]), 0),
			Open:  row[1],
			High:  row[2],
			Low:   row[3],
			Close: row[4],
		})
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, asset string, amount float64, dir models.Side, expirySec int) (string, error) {
	direction := "call"
	if dir == models.SideSell {
		direction = "put"
	}

	// request_id генерим на клиенте: повторная отправка того же решения
	// не создаст второй ордер на стороне брокера.
	body, _ := json.Marshal(map[string]any{
		"asset":      asset,
		"amount":     amount,
		"direction":  direction,
		"expiry":     expirySec,
		"request_id": uuid.NewString(),
	})
	rb, status, err := c.do(ctx, http.MethodPost, "/api/v2/orders", body, true)
	if err != nil {
		return "", err
	}
	if status/100 != 2 {
		return "", errors.Wrapf(ErrOrderRejected, "order http %d: %s", status, rb)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rb, &resp); err != nil || resp.ID == "" {
		return "", errors.Wrap(ErrOrderRejected, "order: bad payload")
	}
	return resp.ID, nil
}

func (c *Client) CheckSettlement(ctx context.Context, orderID string) (Outcome, error) {
	rb, status, err := c.do(ctx, http.MethodGet, "/api/v2/orders/"+orderID, nil, true)
	if err != nil {
		return Outcome{}, err
	}
	if status/100 != 2 {
		return Outcome{}, errors.Wrapf(ErrConnectivity, "settlement http %d", status)
	}

	var resp struct {
		Status string  `json:"status"` // win / loss / pending
		Profit float64 `json:"profit"`
	}
	if err := json.Unmarshal(rb, &resp); err != nil {
		return Outcome{}, errors.Wrap(ErrConnectivity, "settlement: bad payload")
	}
	if resp.Status == "pending" {
		return Outcome{}, errors.Wrapf(ErrSettlementPending, "order %s", orderID)
	}
	return Outcome{
		OrderID: orderID,
		Win:     resp.Status == "win",
		Profit:  resp.Profit,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, withAuth bool) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, 0, errors.Wrap(ErrConnectivity, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token == "" {
			return nil, 0, errors.Wrap(ErrConnectivity, "not connected")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(ErrConnectivity, err.Error())
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	return rb, resp.StatusCode, nil
}

func (c *Client) SetPrice(asset string, q models.Quote) {
	c.mu.Lock()
	c.prices[asset] = q
	c.mu.Unlock()
}

func (c *Client) GetPrice(asset string) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.prices[asset]
	return q, ok
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
