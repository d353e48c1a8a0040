/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package scan_handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apiutils "github.com/caffeinedoom/neobotnet/pkg/apiutils"
	"github.com/caffeinedoom/neobotnet/pkg/orchestrator"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
	"github.com/caffeinedoom/neobotnet/pkg/streambus"
)

var jsonContentType = "application/json; charset=utf-8"

type Handler struct {
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	bus          streambus.Interface
}

func NewHandler(orch *orchestrator.Orchestrator, reg *registry.Registry,
	bus streambus.Interface) *Handler {
	return &Handler{
		orchestrator: orch,
		registry:     reg,
		bus:          bus,
	}
}

type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	// If a status was previously set, use that status in the response.
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	switch rspType := rsp.(type) {
	case []byte:
		c.Data(code, jsonContentType, rspType)
	case nil:
		c.Status(code)
	default:
		c.JSON(code, rsp)
	}
}
