/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package scan_handlers

import (
	"github.com/gin-gonic/gin"
)

// ListModules exposes the enabled module catalog so callers can build
// valid requests.
func (h *Handler) ListModules(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		names := h.registry.AllEnabled()
		result := &ModuleList{Total: len(names)}
		for _, name := range names {
			profile, err := h.registry.Profile(name)
			if err != nil {
				return nil, err
			}
			result.Modules = append(result.Modules, ModuleView{
				Name:                    profile.Name,
				Dependencies:            profile.Dependencies,
				EstimatedSecondsPerUnit: profile.EstimatedSecondsPerUnit,
				MaxBatchSize:            profile.MaxBatchSize,
			})
		}
		return result, nil
	})
}

// ReloadModules re-reads the catalog. On failure the previous snapshot
// keeps serving and the error is returned.
func (h *Handler) ReloadModules(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		if err := h.registry.Reload(c.Request.Context()); err != nil {
			return nil, err
		}
		return &ModuleList{Total: len(h.registry.AllEnabled())}, nil
	})
}

// Healthz reports process liveness plus the reachability of the stream
// bus.
func (h *Handler) Healthz(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		status := &HealthStatus{Status: "ok", Bus: "ok"}
		if err := h.bus.Ping(c.Request.Context()); err != nil {
			status.Status = "degraded"
			status.Bus = err.Error()
		}
		return status, nil
	})
}
