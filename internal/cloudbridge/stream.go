package cloudbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamConfig configures the attribute stream
type StreamConfig struct {
	// BaseURL is the REST base URL; the websocket URL is derived from it
	BaseURL string
	// DeviceID is the platform UUID of the gateway device
	DeviceID   string
	RetryDelay time.Duration
}

type attrSubCmd struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Scope      string `json:"scope"`
	CmdID      int    `json:"cmdId"`
}

type subscribeMsg struct {
	AttrSubCmds []attrSubCmd `json:"attrSubCmds"`
}

type updateMsg struct {
	SubscriptionID int                `json:"subscriptionId"`
	ErrorCode      int                `json:"errorCode"`
	ErrorMsg       string             `json:"errorMsg"`
	Data           map[string][][]any `json:"data"`
}

// Stream follows shared attribute updates of the gateway device over the
// platform websocket API and keeps reconnecting until its context ends
type Stream struct {
	cfg    StreamConfig
	tokens *TokenSource
	dialer *websocket.Dialer
	log    *zap.Logger
}

// NewStream validates cfg and creates a stream
func NewStream(cfg StreamConfig, tokens *TokenSource, log *zap.Logger) (*Stream, error) {
	if _, err := uuid.Parse(cfg.DeviceID); err != nil {
		return nil, fmt.Errorf("cloudbridge: gateway device id %q: %w", cfg.DeviceID, err)
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Stream{cfg: cfg, tokens: tokens, dialer: websocket.DefaultDialer, log: log.Named("stream")}, nil
}

// Run keeps the stream connected until ctx is done
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			s.log.Warn("Stream closed by platform for auth, refreshing credential")
			if err := s.tokens.RefreshNow(ctx); err != nil {
				s.log.Error("Credential refresh failed", zap.Error(err))
			}
		} else {
			s.log.Warn("Stream disconnected, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

func (s *Stream) run(ctx context.Context) error {
	wsURL, err := streamURL(s.cfg.BaseURL, s.tokens.Token())
	if err != nil {
		return err
	}
	ws, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	sub := subscribeMsg{AttrSubCmds: []attrSubCmd{{
		EntityType: "DEVICE",
		EntityID:   s.cfg.DeviceID,
		Scope:      "SHARED_SCOPE",
		CmdID:      1,
	}}}
	if err := ws.WriteJSON(sub); err != nil {
		return err
	}
	s.log.Info("Attribute stream connected", zap.String("device_id", s.cfg.DeviceID))

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var msg updateMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn("Undecodable stream message", zap.Error(err))
			continue
		}
		if msg.ErrorCode != 0 {
			s.log.Error("Stream subscription error", zap.Int("code", msg.ErrorCode), zap.String("error", msg.ErrorMsg))
			continue
		}
		for key, samples := range msg.Data {
			if len(samples) == 0 || len(samples[0]) < 2 {
				continue
			}
			s.log.Info("Shared attribute updated", zap.String("key", key), zap.Any("value", samples[0][1]))
		}
	}
}

func streamURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", errors.New("cloudbridge: unsupported api url scheme " + u.Scheme)
	}
	u.Path += "/api/ws/plugins/telemetry"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
