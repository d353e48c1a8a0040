/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package apiutils

import (
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// Logger returns a gin middleware that writes one access line per
// request through klog, including errors attached to the context.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if len(c.Errors) > 0 {
			klog.Errorf("%s %s %d %v, errors: %s",
				c.Request.Method, path, status, latency, c.Errors.String())
			return
		}
		klog.Infof("%s %s %d %v", c.Request.Method, path, status, latency)
	}
}
