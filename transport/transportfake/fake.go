// Package transportfake provides a scriptable transport.Client for tests.
package transportfake

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/hack-ink/oauth2-broker/transport"
)

// Exchange is one scripted dispatch outcome.
type Exchange struct {
	Response *transport.Response
	Meta     *transport.ResponseMetadata
	Err      error
	// Wait, when non-nil, blocks the dispatch until the channel closes so
	// tests can hold a flight open while more callers join it.
	Wait <-chan struct{}
}

// Client replays scripted exchanges in order and records every request it
// sees. The final exchange repeats once the script is exhausted.
type Client struct {
	mu         sync.Mutex
	script     []Exchange
	requests   []transport.TokenRequest
	dispatches int
}

var _ transport.Client = (*Client)(nil)

// New builds a fake client with the provided script.
func New(script ...Exchange) *Client {
	return &Client{script: script}
}

// RespondJSON is a convenience for a single 200 JSON exchange.
func RespondJSON(body string) *Client {
	return New(Exchange{
		Response: &transport.Response{Status: 200, Body: []byte(body)},
		Meta:     &transport.ResponseMetadata{Status: 200},
	})
}

// Dispatch implements transport.Client.
func (c *Client) Dispatch(_ context.Context, req transport.TokenRequest, slot *transport.MetadataSlot) (*transport.Response, error) {
	slot.Take()

	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.script) == 0 {
		c.dispatches++
		c.mu.Unlock()
		return nil, &transport.Error{Kind: transport.ErrOther, Err: errors.New("transportfake: no scripted exchanges")}
	}
	idx := c.dispatches
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	c.dispatches++
	exchange := c.script[idx]
	c.mu.Unlock()

	if exchange.Wait != nil {
		<-exchange.Wait
	}

	if exchange.Meta != nil {
		slot.Store(*exchange.Meta)
	}
	if exchange.Err != nil {
		return nil, exchange.Err
	}
	return exchange.Response, nil
}

// Dispatches reports how many requests the fake served.
func (c *Client) Dispatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dispatches
}

// Requests returns a copy of the recorded requests.
func (c *Client) Requests() []transport.TokenRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]transport.TokenRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// LastForm decodes the most recent request body as form values.
func (c *Client) LastForm() (url.Values, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.requests) == 0 {
		return nil, nil
	}
	return url.ParseQuery(c.requests[len(c.requests)-1].Body)
}
