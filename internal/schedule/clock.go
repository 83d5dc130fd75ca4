package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResyncAfter is how long a measured offset is trusted.
const ResyncAfter = time.Hour

// Clock is local time corrected by the offset of one or more store servers,
// measured from the Date header of HEAD requests.
type Clock struct {
	client  *http.Client
	servers []string
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time
	synced   bool
}

// NewClock measures against servers. A nil client gets a 5 second timeout.
func NewClock(client *http.Client, logger *zap.Logger, servers ...string) *Clock {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clock{client: client, servers: servers, logger: logger.Named("clock"), now: time.Now}
}

// Sync averages the offset of every server that answered.
func (c *Clock) Sync(ctx context.Context) error {
	var total time.Duration
	ok := 0
	for _, server := range c.servers {
		off, err := c.measure(ctx, server)
		if err != nil {
			c.logger.Debug("time sync failed", zap.String("server", server), zap.Error(err))
			continue
		}
		c.logger.Debug("time offset", zap.String("server", server), zap.Duration("offset", off))
		total += off
		ok++
	}
	if ok == 0 {
		return errors.New("failed to sync time with any server")
	}

	c.mu.Lock()
	c.offset = total / time.Duration(ok)
	c.lastSync = c.now()
	c.synced = true
	c.mu.Unlock()
	return nil
}

func (c *Clock) measure(ctx context.Context, server string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, server, nil)
	if err != nil {
		return 0, err
	}

	before := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	after := c.now()

	date := resp.Header.Get("Date")
	if date == "" {
		return 0, errors.New("no Date header in response")
	}
	serverTime, err := http.ParseTime(date)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// The server stamped the response roughly half way through the round trip.
	local := before.Add(after.Sub(before) / 2)
	return serverTime.Sub(local), nil
}

// Now is the corrected time, or local time before the first successful Sync.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

func (c *Clock) ShouldResync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.synced || c.now().Sub(c.lastSync) > ResyncAfter
}
