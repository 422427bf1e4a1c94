package cloudbridge

import (
	"context"
	"encoding/json"
	"strings"

	"officegateway/internal/events"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"

	"go.uber.org/zap"
)

type rpcRequest struct {
	requestID string
	payload   []byte
}

type rpcEnvelope struct {
	RequestID string          `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
}

// onRPC runs on the MQTT client's goroutine and only hands the request over
// to Run. A full queue is answered right away.
func (c *Client) onRPC(msg mqtt.Message) error {
	id := strings.TrimPrefix(msg.Topic, rpcRequestPrefix)
	req := rpcRequest{requestID: id, payload: msg.Payload}
	select {
	case c.rpcQueue <- req:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.log.Warn("RPC queue full, rejecting request", zap.String("request_id", id))
		return c.SendRPCReply(id, models.RPCError("Gateway busy"))
	}
}

// Run decodes queued RPC requests into intents and publishes them until ctx
// is done or the bridge is closed
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case req := <-c.rpcQueue:
			c.dispatchRPC(ctx, req)
		}
	}
}

func (c *Client) dispatchRPC(ctx context.Context, req rpcRequest) {
	var env rpcEnvelope
	if err := json.Unmarshal(req.payload, &env); err != nil {
		c.log.Warn("Undecodable RPC request", zap.String("request_id", req.requestID), zap.Error(err))
		c.bus.Publish(ctx, events.InvalidRPCEvent{
			Meta:   events.Meta{RequestID: req.requestID, Origin: events.OriginCloud},
			Params: string(req.payload),
			Error:  err.Error(),
		})
		return
	}
	id := req.requestID
	if id == "" {
		id = env.RequestID
	}
	c.log.Info("RPC request", zap.String("request_id", id), zap.String("method", env.Method))
	c.bus.Publish(ctx, events.DecodeRPC(id, env.Method, env.Params))
}
