/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	apiutils "github.com/caffeinedoom/neobotnet/pkg/apiutils"
	dbclient "github.com/caffeinedoom/neobotnet/pkg/database/client"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	scanhandlers "github.com/caffeinedoom/neobotnet/pkg/handlers/scan-handlers"
	"github.com/caffeinedoom/neobotnet/pkg/launcher"
	"github.com/caffeinedoom/neobotnet/pkg/orchestrator"
	"github.com/caffeinedoom/neobotnet/pkg/pipeline"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
	"github.com/caffeinedoom/neobotnet/pkg/streambus"
)

// InitHttpHandlers wires the engine's dependency graph and returns the
// configured gin engine. A failure of any hard dependency (store, bus,
// registry, scheduler) aborts startup instead of serving a half-alive
// process.
func InitHttpHandlers(ctx context.Context) (*gin.Engine, error) {
	engine := gin.New()
	engine.Use(apiutils.Logger(), gin.Recovery())
	engine.NoRoute(func(c *gin.Context) {
		apiutils.AbortWithApiError(c, commonerrors.NewNotFoundWithMessage(c.Request.RequestURI+" not found"))
	})

	dbClient := dbclient.NewClient()
	if dbClient == nil {
		return nil, fmt.Errorf("failed to new db client")
	}
	reg := registry.NewRegistry(dbClient)
	if err := reg.Load(ctx); err != nil {
		return nil, err
	}
	bus, err := streambus.NewBus()
	if err != nil {
		return nil, err
	}
	ecsLauncher, err := launcher.NewEcsLauncher(ctx)
	if err != nil {
		return nil, err
	}

	runner := pipeline.New(dbClient, bus, ecsLauncher, reg)
	orch := orchestrator.New(dbClient, reg, runner, nil)

	scanHandler := scanhandlers.NewHandler(orch, reg, bus)
	scanhandlers.InitScanRouters(engine, scanHandler)
	return engine, nil
}
