/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"

	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

const (
	TScan = "scans"

	// Scan counter columns bumped incrementally while pipelines finish.
	CounterAssetsCompleted = "assets_completed"
	CounterAssetsFailed    = "assets_failed"
	CounterAssetsPartial   = "assets_partial"
)

var (
	getScanCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE scan_id = $1 LIMIT 1`, TScan)
	insertScanFormat = `INSERT INTO ` + TScan + ` (%s) VALUES (%s)`

	markScanRunningCmd = fmt.Sprintf(`UPDATE %s
		SET status = '%s', started_at = $1
		WHERE scan_id = $2 AND status = '%s'`, TScan, ScanRunning, ScanPending)

	// Terminal transitions are write-once: the guard refuses to overwrite
	// a scan that another path already finalized.
	finalizeScanCmd = fmt.Sprintf(`UPDATE %s
		SET status = $1, completed_at = $2, message = $3
		WHERE scan_id = $4 AND status NOT IN ('%s', '%s', '%s', '%s')`,
		TScan, ScanCompleted, ScanPartialFailure, ScanFailed, ScanCancelled)
)

// InsertScan inserts a pending scan row. Transient failures are retried
// with bounded exponential backoff; persistent failure fails the request.
func (c *Client) InsertScan(ctx context.Context, scan *Scan) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := generateCommand(*scan, insertScanFormat, "id")
	operation := func() error {
		_, execErr := db.NamedExecContext(ctx, cmd, scan)
		return execErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err = backoff.Retry(operation, policy); err != nil {
		klog.ErrorS(err, "failed to insert scan", "id", scan.ScanId)
		return err
	}
	return nil
}

func (c *Client) GetScan(ctx context.Context, scanId string) (*Scan, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var scans []*Scan
	if err = db.SelectContext(ctx, &scans, getScanCmd, scanId); err != nil {
		return nil, err
	}
	if len(scans) == 0 || scans[0] == nil {
		return nil, commonerrors.NewScanNotFound(scanId)
	}
	return scans[0], nil
}

func (c *Client) SelectScans(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*Scan, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	orderBy := func() []string {
		var results []string
		if sortBy == "" || order == "" {
			return results
		}
		if order == DESC {
			results = append(results, fmt.Sprintf("%s desc", sortBy))
		} else {
			results = append(results, fmt.Sprintf("%s asc", sortBy))
		}
		return results
	}()
	sql, args, err := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TScan).
		Where(query).
		OrderBy(orderBy...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	var scans []*Scan
	ctx2, cancel := c.requestContext(ctx)
	defer cancel()
	err = db.SelectContext(ctx2, &scans, sql, args...)
	return scans, err
}

func (c *Client) CountScans(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	sql, args, err := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).From(TScan).Where(query).ToSql()
	if err != nil {
		return 0, err
	}
	var cnt int
	err = db.GetContext(ctx, &cnt, sql, args...)
	return cnt, err
}

func (c *Client) MarkScanRunning(ctx context.Context, scanId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, markScanRunningCmd, time.Now().UTC(), scanId); err != nil {
		klog.ErrorS(err, "failed to mark scan running", "id", scanId)
		return err
	}
	return nil
}

// BumpScanCounter atomically increments one of the per-scan asset
// counters. Monotonic by construction, so 1 Hz pollers never observe a
// decrease.
func (c *Client) BumpScanCounter(ctx context.Context, scanId, counter string) error {
	switch counter {
	case CounterAssetsCompleted, CounterAssetsFailed, CounterAssetsPartial:
	default:
		return commonerrors.NewInternalError(fmt.Sprintf("unknown scan counter %q", counter))
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET %s = %s + 1 WHERE scan_id = $1`, TScan, counter, counter)
	if _, err = db.ExecContext(ctx, cmd, scanId); err != nil {
		klog.ErrorS(err, "failed to bump scan counter", "id", scanId, "counter", counter)
		return err
	}
	return nil
}

func (c *Client) FinalizeScan(ctx context.Context, scanId string, status ScanStatus, message string) error {
	if !status.IsTerminal() {
		return commonerrors.NewInternalError(fmt.Sprintf("status %q is not terminal", status))
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, finalizeScanCmd, status, time.Now().UTC(), message, scanId)
	if err != nil {
		klog.ErrorS(err, "failed to finalize scan", "id", scanId, "status", status)
		return err
	}
	if n, err2 := result.RowsAffected(); err2 == nil && n == 0 {
		klog.Infof("scan %s already terminal, finalize to %s skipped", scanId, status)
	}
	return nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.RequestTimeout)
	}
	return context.WithCancel(ctx)
}
