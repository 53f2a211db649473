// File: bootstrap/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket and channel configuration shared by server and client bootstraps.

package bootstrap

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
)

// Option keys understood by ApplyOptions and the control.ConfigStore layer.
const (
	KeyBacklog   = "backlog"
	KeyKeepAlive = "keepAlive"
	KeyNoDelay   = "noDelay"
)

// Config tunes listening and connected sockets. Nil flags and zero values
// are filled from DefaultConfig by CombineWith.
type Config struct {
	Backlog          int
	KeepAlive        *bool
	NoDelay          *bool
	ReuseAddr        *bool
	ReadBufferSize   int
	MaxReadsPerEvent int
	CloseTimeout     time.Duration

	// MaxAcceptPause caps how long accepting stays paused after the
	// process runs out of descriptors.
	MaxAcceptPause time.Duration
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Backlog:          128,
		KeepAlive:        Bool(true),
		NoDelay:          Bool(true),
		ReuseAddr:        Bool(true),
		ReadBufferSize:   channel.DefaultReadBufferSize,
		MaxReadsPerEvent: channel.DefaultMaxReadsPerEvent,
		CloseTimeout:     channel.DefaultCloseTimeout,
		MaxAcceptPause:   time.Second,
	}
}

// CombineWith fills every unset field of c from other.
func (c Config) CombineWith(other Config) Config {
	if c.Backlog <= 0 {
		c.Backlog = other.Backlog
	}
	if c.KeepAlive == nil {
		c.KeepAlive = other.KeepAlive
	}
	if c.NoDelay == nil {
		c.NoDelay = other.NoDelay
	}
	if c.ReuseAddr == nil {
		c.ReuseAddr = other.ReuseAddr
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = other.ReadBufferSize
	}
	if c.MaxReadsPerEvent <= 0 {
		c.MaxReadsPerEvent = other.MaxReadsPerEvent
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = other.CloseTimeout
	}
	if c.MaxAcceptPause <= 0 {
		c.MaxAcceptPause = other.MaxAcceptPause
	}
	return c
}

// ApplyOptions returns c with the recognised keys of opts applied. Unknown
// keys are ignored; a recognised key with a value of the wrong type fails
// the whole update.
func (c Config) ApplyOptions(opts map[string]any) (Config, error) {
	out := c
	for k, v := range opts {
		switch k {
		case KeyBacklog:
			n, err := toInt(v)
			if err != nil || n <= 0 {
				return c, optionError(k, v)
			}
			out.Backlog = n
		case KeyKeepAlive:
			b, ok := v.(bool)
			if !ok {
				return c, optionError(k, v)
			}
			out.KeepAlive = Bool(b)
		case KeyNoDelay:
			b, ok := v.(bool)
			if !ok {
				return c, optionError(k, v)
			}
			out.NoDelay = Bool(b)
		}
	}
	return out, nil
}

// Options returns the wire-key view of c.
func (c Config) Options() map[string]any {
	return map[string]any{
		KeyBacklog:   c.Backlog,
		KeyKeepAlive: flag(c.KeepAlive),
		KeyNoDelay:   flag(c.NoDelay),
	}
}

func (c Config) channelOptions() channel.Options {
	return channel.Options{
		ReadBufferSize:   c.ReadBufferSize,
		MaxReadsPerEvent: c.MaxReadsPerEvent,
		CloseTimeout:     c.CloseTimeout,
	}
}

func flag(p *bool) bool { return p != nil && *p }

func optionError(key string, v any) error {
	return api.NewError(api.ErrCodeInvalidArgument, api.ErrInvalidArgument,
		fmt.Sprintf("invalid value for option %q: %v (%T)", key, v, v)).
		WithContext("key", key)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, api.ErrInvalidArgument
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	}
	return 0, api.ErrInvalidArgument
}
