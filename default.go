package flagfile

import (
	"context"
	"errors"
	"sync"
)

// ErrNotInitialized is returned by Default before Init has succeeded.
var ErrNotInitialized = errors.New("flagfile: default client not initialized")

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Init creates the process-wide client returned by Default. A previous
// default client is closed once the new one is in place.
func Init(ctx context.Context, opts ...Option) (*Client, error) {
	c, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	previous := defaultClient
	defaultClient = c
	defaultMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return c, nil
}

func Default() (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		return nil, ErrNotInitialized
	}
	return defaultClient, nil
}

// Shutdown closes and forgets the default client.
func Shutdown() error {
	defaultMu.Lock()
	c := defaultClient
	defaultClient = nil
	defaultMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}
