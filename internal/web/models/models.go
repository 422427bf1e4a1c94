package models

import (
	gw "officegateway/internal/models"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LightingRequest drives a lighting actuator from the admin API
type LightingRequest struct {
	Color      [][3]int `json:"color"`
	Brightness *int     `json:"brightness"`
}

// FanRequest switches a fan actuator from the admin API
type FanRequest struct {
	State *bool `json:"state" binding:"required"`
	Speed *int  `json:"speed"`
}

type TestRequest struct {
	Message string `json:"message"`
}

type ActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// CommandResult is returned by every control endpoint
type CommandResult struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewCommandResult(requestID string, resp gw.RPCResponse) CommandResult {
	return CommandResult{RequestID: requestID, Status: resp.Status, Data: resp.Data}
}
