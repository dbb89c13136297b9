// Package client is a Go client for a node's JSON-RPC endpoint and event
// stream. Transport failures are retried with exponential backoff; rule
// rejections come back immediately as *gameerr.Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/logging"
	"github.com/tolelom/pantheon/rpc"
)

// DefaultMaxTries bounds how often a call is attempted.
const DefaultMaxTries = 5

// Client talks to one node.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	maxTries uint
	log      *zap.Logger
	nextID   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithMaxTries sets the attempt limit. Values below 1 mean a single attempt.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		c.maxTries = n
	}
}

// WithLogger sets the logger retries are reported to.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = logging.OrNop(l) } }

// New returns a client for the node at endpoint, e.g. "http://127.0.0.1:8545".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		maxTries: DefaultMaxTries,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call invokes method with params and decodes the result into out, which
// may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}
	body, err := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	op := func() (json.RawMessage, error) {
		return c.do(ctx, body)
	}
	notify := func(err error, next time.Duration) {
		c.log.Debug("retrying call", zap.String("method", method), zap.Duration("in", next), zap.Error(err))
	}
	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// do performs one attempt. Errors the node reported are permanent; network
// failures and 5xx responses are retried.
func (c *Client) do(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("node returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("node returned %s: %s", resp.Status, bytes.TrimSpace(msg)))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if r.Error != nil {
		if r.Error.Code == rpc.CodeRuleViolation {
			var data rpc.RuleData
			_ = json.Unmarshal(r.Error.Data, &data)
			ge := gameerr.New(data.Code, r.Error.Message)
			ge.Metadata = data.Metadata
			return nil, backoff.Permanent(ge)
		}
		return nil, backoff.Permanent(&rpc.Error{Code: r.Error.Code, Message: r.Error.Message})
	}
	return r.Result, nil
}

// Height returns the node's chain height.
func (c *Client) Height(ctx context.Context) (int64, error) {
	var h int64
	err := c.Call(ctx, "getBlockHeight", nil, &h)
	return h, err
}

// Balance returns addr's balance.
func (c *Client) Balance(ctx context.Context, addr string) (uint64, error) {
	var out struct {
		Balance uint64 `json:"balance"`
	}
	err := c.Call(ctx, "getBalance", map[string]string{"address": addr}, &out)
	return out.Balance, err
}

// NextNonce returns the nonce addr's next transaction should carry,
// counting transactions still waiting in the node's mempool.
func (c *Client) NextNonce(ctx context.Context, addr string) (uint64, error) {
	var out struct {
		PendingNonce uint64 `json:"pending_nonce"`
	}
	err := c.Call(ctx, "getBalance", map[string]string{"address": addr}, &out)
	return out.PendingNonce, err
}

// Match returns the match record with id.
func (c *Client) Match(ctx context.Context, id uint64) (*core.Match, error) {
	var m core.Match
	if err := c.Call(ctx, "getMatch", map[string]uint64{"id": id}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindingMatches returns ids of matches waiting for an opponent at stake.
func (c *Client) FindingMatches(ctx context.Context, stake uint64) ([]uint64, error) {
	var ids []uint64
	err := c.Call(ctx, "getFindingMatches", map[string]uint64{"stake": stake}, &ids)
	return ids, err
}

// Submit sends a signed transaction and returns its id.
func (c *Client) Submit(ctx context.Context, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.Call(ctx, "sendTx", tx, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// Receipt returns the current status of txID.
func (c *Client) Receipt(ctx context.Context, txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := c.Call(ctx, "getTxStatus", map[string]string{"tx_id": txID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ErrStillPending is returned by WaitForReceipt when ctx ends first.
var ErrStillPending = errors.New("transaction still pending")

// WaitForReceipt polls until txID is included or rejected. A rejected
// receipt is returned together with its rule error.
func (c *Client) WaitForReceipt(ctx context.Context, txID string, poll time.Duration) (*core.Receipt, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		r, err := c.Receipt(ctx, txID)
		if err != nil {
			return nil, err
		}
		switch r.Status {
		case core.ReceiptSuccess:
			return r, nil
		case core.ReceiptRejected:
			code := r.Code
			if code == "" {
				code = gameerr.CodeUnknown
			}
			return r, gameerr.New(code, r.Error)
		}
		select {
		case <-ctx.Done():
			return r, fmt.Errorf("%w: %w", ErrStillPending, ctx.Err())
		case <-t.C:
		}
	}
}

// Subscribe opens the event stream with filter. The channel closes when ctx
// ends or the connection drops.
func (c *Client) Subscribe(ctx context.Context, filter rpc.StreamFilter) (<-chan events.Event, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	if filter.MatchID != 0 {
		q.Set("match_id", strconv.FormatUint(filter.MatchID, 10))
	}
	if filter.Address != "" {
		q.Set("address", filter.Address)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	var hello rpc.Hello
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	c.log.Debug("subscribed", zap.String("subscriber", hello.SubscriberID))

	out := make(chan events.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.UseNumber()
			var ev events.Event
			if err := dec.Decode(&ev); err != nil {
				c.log.Debug("bad event frame", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
