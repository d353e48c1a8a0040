/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package scan_handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	apiutils "github.com/caffeinedoom/neobotnet/pkg/apiutils"
	"github.com/caffeinedoom/neobotnet/pkg/common"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	"github.com/caffeinedoom/neobotnet/pkg/orchestrator"
	"github.com/caffeinedoom/neobotnet/pkg/pipeline"
)

// CreateScan validates synchronously and answers with the pending scan;
// the pipelines run in the background.
func (h *Handler) CreateScan(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req CreateScanRequest
		if _, err := apiutils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		assets := make(map[string]orchestrator.AssetSpec, len(req.Assets))
		for assetId, spec := range req.Assets {
			assets[assetId] = orchestrator.AssetSpec{
				Modules: spec.Modules,
				Options: pipeline.Options{ActiveDomainsOnly: spec.Options.ActiveDomainsOnly},
			}
		}
		accepted, err := h.orchestrator.ExecuteScan(c.Request.Context(), &orchestrator.ScanRequest{
			OwnerId:       ownerOf(c),
			Assets:        assets,
			ExecutionMode: req.ExecutionMode,
			BatchHint:     req.BatchHint,
		})
		if err != nil {
			return nil, err
		}
		return accepted, nil
	})
}

// GetScan returns the scan with its per-asset, per-module dispositions.
func (h *Handler) GetScan(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		scanId := c.Param(common.ScanId)
		if scanId == "" {
			return nil, commonerrors.NewBadRequest("the scan id is empty")
		}
		return h.orchestrator.GetScan(c.Request.Context(), scanId, ownerOf(c))
	})
}

// ListScans pages the owner's scans, optionally filtered by status.
func (h *Handler) ListScans(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		limit, err := queryInt(c, "limit", 50)
		if err != nil {
			return nil, err
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			return nil, err
		}
		return h.orchestrator.ListScans(c.Request.Context(),
			ownerOf(c), c.Query("status"), limit, offset)
	})
}

// CancelScan stops a pending or running scan.
func (h *Handler) CancelScan(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		scanId := c.Param(common.ScanId)
		if scanId == "" {
			return nil, commonerrors.NewBadRequest("the scan id is empty")
		}
		return h.orchestrator.CancelScan(c.Request.Context(), scanId, ownerOf(c))
	})
}

func ownerOf(c *gin.Context) string {
	return c.GetString(common.UserId)
}

func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, commonerrors.NewBadRequest("invalid query parameter " + key)
	}
	return val, nil
}
