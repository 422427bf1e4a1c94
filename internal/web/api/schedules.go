package api

import (
	"context"
	"errors"
	"net/http"

	gw "officegateway/internal/models"
	"officegateway/internal/scheduler"
	"officegateway/internal/web/middleware"
	"officegateway/internal/web/models"

	"github.com/gin-gonic/gin"
)

// ScheduleManager is the schedule store as seen by the admin API
type ScheduleManager interface {
	Create(ctx context.Context, s gw.Schedule) (*gw.Schedule, error)
	Update(ctx context.Context, id int, s gw.Schedule) (*gw.Schedule, error)
	SetActive(ctx context.Context, id int, active bool) (bool, error)
	Delete(ctx context.Context, id int) (bool, error)
	Get(ctx context.Context, id int) (*gw.Schedule, error)
	List(ctx context.Context) ([]gw.Schedule, error)
	ForActuator(ctx context.Context, actuatorID int) ([]gw.Schedule, error)
}

func RegisterScheduleRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, mgr ScheduleManager) {
	fail := func(c *gin.Context, err error) {
		if errors.Is(err, scheduler.ErrInvalidSchedule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Schedule store failure"})
	}
	list := func(c *gin.Context, out []gw.Schedule, err error) {
		if err != nil {
			fail(c, err)
			return
		}
		if out == nil {
			out = []gw.Schedule{}
		}
		c.JSON(http.StatusOK, out)
	}
	notFound := func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Schedule not found"})
	}

	schedules := r.Group("/schedules")
	schedules.Use(middleware.RequireAuth())
	{
		schedules.GET("", func(c *gin.Context) {
			out, err := mgr.List(c)
			list(c, out, err)
		})

		schedules.POST("", func(c *gin.Context) {
			s := gw.Schedule{IsActive: true}
			if err := c.ShouldBindJSON(&s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			created, err := mgr.Create(c, s)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusCreated, created)
		})

		schedules.GET("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			s, err := mgr.Get(c, id)
			if err != nil {
				fail(c, err)
				return
			}
			if s == nil {
				notFound(c)
				return
			}
			c.JSON(http.StatusOK, s)
		})

		schedules.PUT("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var s gw.Schedule
			if err := c.ShouldBindJSON(&s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			updated, err := mgr.Update(c, id, s)
			if err != nil {
				fail(c, err)
				return
			}
			if updated == nil {
				notFound(c)
				return
			}
			c.JSON(http.StatusOK, updated)
		})

		schedules.PATCH("/:id/active", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var req models.ActiveRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			found, err := mgr.SetActive(c, id, *req.IsActive)
			if err != nil {
				fail(c, err)
				return
			}
			if !found {
				notFound(c)
				return
			}
			c.Status(http.StatusNoContent)
		})

		schedules.DELETE("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			found, err := mgr.Delete(c, id)
			if err != nil {
				fail(c, err)
				return
			}
			if !found {
				notFound(c)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	r.GET("/actuators/:id/schedules", middleware.RequireAuth(), func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		out, err := mgr.ForActuator(c, id)
		list(c, out, err)
	})
}
