// Package livestream consumes the decoded push-event relay of a live room.
//
// The relay speaks JSON text frames of the form {"cmd": "<KIND>", ...}. On
// connect the client announces the room with {"cmd":"subscribe","roomid":N}.
package livestream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	logx "rafflebot/pkg/logx"
)

// Deliver receives every frame that carries a command. It runs on the read
// loop, so it must hand work off instead of blocking.
type Deliver func(ctx context.Context, cmd string, frame map[string]any)

type Options struct {
	URL          string
	RoomID       int64
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Header       http.Header
	HTTPClient   *http.Client
}

type Stats struct {
	Connected bool   `json:"connected"`
	Sessions  uint64 `json:"sessions"`
	Frames    uint64 `json:"frames"`
	Ignored   uint64 `json:"ignored"`
}

type Client struct {
	opts Options
	log  logx.Logger

	connected atomic.Bool
	sessions  atomic.Uint64
	frames    atomic.Uint64
	ignored   atomic.Uint64
}

func New(opts Options, log logx.Logger) *Client {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(30*time.Second, opts.ReconnectMin)
	}
	return &Client{opts: opts, log: log}
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.connected.Load(),
		Sessions:  c.sessions.Load(),
		Frames:    c.frames.Load(),
		Ignored:   c.ignored.Load(),
	}
}

// Run reads the relay until ctx is canceled, reconnecting with jittered
// exponential backoff. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context, deliver Deliver) error {
	if deliver == nil {
		return errors.New("livestream: nil deliver")
	}
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	backoff := c.opts.ReconnectMin
	for {
		established, err := c.session(ctx, target, deliver)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			backoff = c.opts.ReconnectMin
		}
		wait := backoff + rand.N(backoff/2+1)
		c.log.Warn("stream disconnected", logx.Err(err), logx.Duration("retry_in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, c.opts.ReconnectMax)
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("livestream: bad url %q", c.opts.URL)
	}
	if c.opts.RoomID > 0 {
		q := u.Query()
		q.Set("roomid", strconv.FormatInt(c.opts.RoomID, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) session(ctx context.Context, target string, deliver Deliver) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: c.opts.Header,
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	if err := wsjson.Write(ctx, conn, map[string]any{"cmd": "subscribe", "roomid": c.opts.RoomID}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	c.sessions.Add(1)
	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info("stream connected", logx.Int64("room", c.opts.RoomID))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return true, errors.New("closed by relay")
			}
			return true, err
		}
		if typ != websocket.MessageText {
			c.ignored.Add(1)
			continue
		}
		cmd, frame, ok := decodeFrame(data)
		if !ok {
			c.ignored.Add(1)
			c.log.Debug("stream frame ignored", logx.Int("bytes", len(data)))
			continue
		}
		c.frames.Add(1)
		deliver(ctx, cmd, frame)
	}
}

// decodeFrame keeps numbers as json.Number so large ids survive.
func decodeFrame(data []byte) (string, map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var frame map[string]any
	if err := dec.Decode(&frame); err != nil || frame == nil {
		return "", nil, false
	}
	cmd, _ := frame["cmd"].(string)
	if cmd == "" {
		return "", nil, false
	}
	return cmd, frame, true
}
