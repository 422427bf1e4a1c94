// Package history records telemetry samples in InfluxDB.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"officegateway/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	batchSize      = 100
	flushInterval  = 5000 // ms

	measurement = "telemetry"
)

var (
	// ErrConnectionFailed is returned when InfluxDB cannot be reached
	ErrConnectionFailed = errors.New("history: influxdb connection failed")
	// ErrClosed is returned for writes after Close
	ErrClosed = errors.New("history: closed")
)

// Options configures the InfluxDB sink
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx is a non-blocking, batched telemetry sink
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Connect pings the server and sets up the batched write API
func Connect(ctx context.Context, o Options, log *zap.Logger) (*Influx, error) {
	client := influxdb2.NewClientWithOptions(o.URL, o.Token,
		influxdb2.DefaultOptions().SetBatchSize(batchSize).SetFlushInterval(flushInterval))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	h := &Influx{client: client, writeAPI: client.WriteAPI(o.Org, o.Bucket), log: log.Named("history")}
	go h.logErrors(h.writeAPI.Errors())
	h.log.Info("Connected to InfluxDB", zap.String("url", o.URL), zap.String("bucket", o.Bucket))
	return h, nil
}

func (h *Influx) logErrors(errs <-chan error) {
	for err := range errs {
		h.log.Warn("Async write failed", zap.Error(err))
	}
}

// WriteTelemetry queues one sample. Non-numeric readings are not stored; a
// sample carrying a sensor error marker is flagged with sensor_fault.
func (h *Influx) WriteTelemetry(_ context.Context, d *models.Device, at time.Time, values map[string]any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	if p := Point(d, at, values); p != nil {
		h.writeAPI.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and closes the client
func (h *Influx) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.writeAPI.Flush()
	h.client.Close()
}

// Point converts a sample to a line protocol point, or nil when the sample
// has nothing to record
func Point(d *models.Device, at time.Time, values map[string]any) *write.Point {
	fields := make(map[string]any, len(values)+1)
	fault := false
	for k, v := range values {
		if f, ok := number(v); ok {
			fields[k] = f
			continue
		}
		if s, ok := v.(string); ok && s == "E" {
			fault = true
		}
	}
	if len(fields) == 0 && !fault {
		return nil
	}
	fields["sensor_fault"] = fault
	tags := map[string]string{
		"device_id": strconv.Itoa(d.ID),
		"device":    d.Name,
	}
	if d.OfficeID != nil {
		tags["office_id"] = strconv.Itoa(*d.OfficeID)
	}
	return write.NewPoint(measurement, tags, fields, at)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
