package feed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Public and private Bybit v5 linear endpoints.
const (
	PublicLinearURL = "wss://stream.bybit.com/v5/public/linear"
	PrivateURL      = "wss://stream.bybit.com/v5/private"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 20 * time.Second
	authValidFor = 10 * time.Second
)

// Client subscribes to a Bybit v5 WebSocket stream.
type Client struct {
	url       string
	apiKey    string
	apiSecret string

	dialer       *websocket.Dialer
	pingInterval time.Duration
}

func NewClient(url string) *Client {
	return &Client{
		url:          url,
		dialer:       websocket.DefaultDialer,
		pingInterval: pingInterval,
	}
}

// WithCredentials makes the client authenticate before subscribing, which the
// private order topic requires.
func (c *Client) WithCredentials(apiKey, apiSecret string) *Client {
	c.apiKey = apiKey
	c.apiSecret = apiSecret
	return c
}

// Subscribe dials the stream, subscribes to topics and delivers decoded
// messages until ctx is cancelled or the connection fails. The last Result
// carries the error; the channel is closed afterwards.
func (c *Client) Subscribe(ctx context.Context, topics ...string) <-chan Result {
	resultCh := make(chan Result)

	go func() {
		defer close(resultCh)
		if err := c.run(ctx, topics, resultCh); err != nil {
			select {
			case resultCh <- Result{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return resultCh
}

func (c *Client) run(ctx context.Context, topics []string, resultCh chan<- Result) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	// gorilla allows one concurrent writer
	var wmu sync.Mutex
	write := func(req request) error {
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(req)
	}

	if c.apiKey != "" {
		if err := write(c.authRequest(time.Now())); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	args := make([]any, len(topics))
	for i, t := range topics {
		args[i] = t
	}
	if err := write(request{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				log.Printf("[feed] closing websocket connection...")
				werr := conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait),
				)
				if werr != nil {
					log.Printf("[feed] could not send close message: %v", werr)
				}
				conn.Close()
				return
			case <-ticker.C:
				if err := write(request{Op: "ping"}); err != nil {
					log.Printf("[feed] ping failed: %v", err)
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		msg, err := Decode(data)
		if err != nil {
			return err
		}
		if msg.Empty() {
			continue
		}

		select {
		case resultCh <- Result{Message: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// authRequest signs "GET/realtime{expires}" with the API secret.
func (c *Client) authRequest(now time.Time) request {
	expires := now.Add(authValidFor).UnixMilli()
	return request{
		Op:   "auth",
		Args: []any{c.apiKey, expires, sign(c.apiSecret, expires)},
	}
}

func sign(secret string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
