package services

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"officegateway/internal/events"
	"officegateway/internal/models"
	"officegateway/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Telemetry keys read by the control loop
const (
	KeyTemperature = "temperature"
	KeyHumidity    = "humidity"
	KeyLuminosity  = "luminosity"
	// firmware spelling, checked first
	KeyLuminousity = "luminousity"
)

const ledCount = 4

// AutoActuator maps sensor readings to settings for actuators in auto mode
type AutoActuator struct {
	bus           Publisher
	fanOnAbove    float64
	luminosityMax float64
	log           *zap.Logger
}

// NewAutoActuator creates the control loop. The fan runs when the
// temperature is strictly above fanOnAbove; luminosity is read on a scale of
// 0 to luminosityMax.
func NewAutoActuator(bus Publisher, fanOnAbove, luminosityMax float64, log *zap.Logger) *AutoActuator {
	if luminosityMax <= 0 {
		luminosityMax = 100
	}
	return &AutoActuator{bus: bus, fanOnAbove: fanOnAbove, luminosityMax: luminosityMax, log: log.Named("auto")}
}

// Actuate emits one fire-and-forget intent per auto mode actuator the sample
// has readings for. It returns the number of intents emitted.
func (a *AutoActuator) Actuate(ctx context.Context, d *models.Device, data map[string]any) int {
	emitted := 0
	for _, act := range d.Actuators {
		if act.Mode != models.ModeAuto {
			continue
		}
		meta := events.Meta{RequestID: uuid.NewString(), Origin: events.OriginAuto}
		switch act.Type {
		case models.ActuatorFan:
			temp, ok := reading(data, KeyTemperature)
			if !ok {
				continue
			}
			a.bus.Publish(ctx, events.SetFanStateEvent{Meta: meta, ActuatorID: act.ID, State: temp > a.fanOnAbove})
		case models.ActuatorLED4RGB:
			lum, ok := luminosity(data)
			if !ok {
				continue
			}
			color, brightness := a.lighting(lum)
			a.bus.Publish(ctx, events.SetLightingEvent{Meta: meta, ActuatorID: act.ID, Color: color, Brightness: &brightness})
		default:
			continue
		}
		emitted++
		a.log.Debug("Auto intent emitted", zap.Int("device_id", d.ID), zap.Int("actuator_id", act.ID),
			zap.String("type", act.Type), zap.String("request_id", meta.RequestID))
	}
	return emitted
}

// lighting inverts the normalised luminosity: a dark room gets bright light
func (a *AutoActuator) lighting(lum float64) ([][3]int, int) {
	dark := 1 - utils.Clamp(lum/a.luminosityMax, 0, 1)
	brightness := int(math.Round(dark * 100))
	v := int(math.Round(dark * 255))
	color := make([][3]int, ledCount)
	for i := range color {
		color[i] = [3]int{v, v, v}
	}
	return color, brightness
}

func luminosity(data map[string]any) (float64, bool) {
	if v, ok := reading(data, KeyLuminousity); ok {
		return v, true
	}
	return reading(data, KeyLuminosity)
}

// reading returns a numeric sensor value; firmware sends numbers but
// occasionally quotes them
func reading(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
