/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package scan_handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	apiutils "github.com/caffeinedoom/neobotnet/pkg/apiutils"
	"github.com/caffeinedoom/neobotnet/pkg/common"
	commonconfig "github.com/caffeinedoom/neobotnet/pkg/config"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

func InitScanRouters(e *gin.Engine, h *Handler) {
	group := e.Group(common.RouterRootPath, identify())
	{
		group.POST("scans", h.CreateScan)
		group.GET("scans", h.ListScans)
		group.GET(fmt.Sprintf("scans/:%s", common.ScanId), h.GetScan)
		group.POST(fmt.Sprintf("scans/:%s/cancel", common.ScanId), h.CancelScan)

		group.GET("modules", h.ListModules)
		group.POST("modules/reload", h.ReloadModules)
	}

	if commonconfig.IsHealthCheckEnabled() {
		e.GET("healthz", h.Healthz)
	}
}

// identify resolves the owner identity forwarded by the authenticating
// gateway. The engine trusts the gateway; it never terminates end-user
// credentials itself.
func identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader("X-Owner-Id")
		if owner == "" {
			apiutils.AbortWithApiError(c, commonerrors.NewUnauthorized("the owner identity is missing"))
			return
		}
		c.Set(common.UserId, owner)
		if name := c.GetHeader("X-Owner-Name"); name != "" {
			c.Set(common.UserName, name)
		}
		c.Next()
	}
}
