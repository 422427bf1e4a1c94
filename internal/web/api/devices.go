package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"officegateway/internal/events"
	gw "officegateway/internal/models"
	"officegateway/internal/services"
	"officegateway/internal/web/middleware"
	"officegateway/internal/web/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeviceReader is the read side of the device cache
type DeviceReader interface {
	GetAllDevices(ctx context.Context) ([]gw.Device, error)
	GetDeviceByID(ctx context.Context, id int) (*gw.Device, error)
}

// Executor carries out a control intent and returns its reply
type Executor interface {
	Execute(ctx context.Context, intent events.RPCIntent) gw.RPCResponse
}

// RegisterDeviceRoutes exposes the device cache and the control operations.
// Commands go through the same decoding and execution as cloud RPCs.
func RegisterDeviceRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, devices DeviceReader, exec Executor) {
	run := func(c *gin.Context, method string, params any) {
		raw, err := json.Marshal(params)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		requestID := "admin_" + uuid.NewString()
		intent := events.DecodeRPC(requestID, method, raw)
		if inv, ok := intent.(events.InvalidRPCEvent); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": inv.Error})
			return
		}
		resp := exec.Execute(c, intent)
		c.JSON(commandStatus(resp), models.NewCommandResult(requestID, resp))
	}

	g := r.Group("/")
	g.Use(middleware.RequireAuth())
	{
		g.GET("/devices", func(c *gin.Context) {
			list, err := devices.GetAllDevices(c)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch devices"})
				return
			}
			if list == nil {
				list = []gw.Device{}
			}
			c.JSON(http.StatusOK, list)
		})

		g.GET("/devices/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			d, err := devices.GetDeviceByID(c, id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch device"})
				return
			}
			if d == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": services.MsgDeviceNotFound})
				return
			}
			c.JSON(http.StatusOK, d)
		})

		g.PUT("/devices/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var upd json.RawMessage
			if err := c.ShouldBindJSON(&upd); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			run(c, events.MethodUpdateDevice, gin.H{"device_id": id, "device_update": upd})
		})

		g.DELETE("/devices/:id", func(c *gin.Context) {
			if id, ok := pathID(c); ok {
				run(c, events.MethodDeleteDevice, gin.H{"device_id": id})
			}
		})

		g.POST("/devices/:id/test", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var req models.TestRequest
			_ = c.ShouldBindJSON(&req)
			run(c, events.MethodTest, gin.H{"device_id": id, "message": req.Message})
		})

		g.PUT("/actuators/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var upd json.RawMessage
			if err := c.ShouldBindJSON(&upd); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			run(c, events.MethodUpdateActuator, gin.H{"actuator_id": id, "actuator_update": upd})
		})

		g.POST("/actuators/:id/lighting", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var req models.LightingRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			run(c, events.MethodSetLighting, gin.H{"actuator_id": id, "color": req.Color, "brightness": req.Brightness})
		})

		g.POST("/actuators/:id/fan", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var req models.FanRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			run(c, events.MethodSetFanState, gin.H{"actuator_id": id, "state": req.State, "speed": req.Speed})
		})
	}
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func commandStatus(resp gw.RPCResponse) int {
	if resp.Status == gw.RPCStatusSuccess {
		return http.StatusOK
	}
	switch resp.Message() {
	case services.MsgDeviceNotFound, services.MsgActuatorNotFound:
		return http.StatusNotFound
	case services.MsgActuatorModeMismatch:
		return http.StatusConflict
	case services.MsgNoResponse:
		return http.StatusGatewayTimeout
	case services.MsgInternalError:
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}
