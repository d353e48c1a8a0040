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
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
)

const (
	TModuleJob = "module_jobs"

	pqUniqueViolation = "23505"
)

var (
	insertModuleJobFormat = `INSERT INTO ` + TModuleJob + ` (%s) VALUES (%s)`

	attachTaskHandleCmd = fmt.Sprintf(`UPDATE %s
		SET task_handle = $1
		WHERE job_id = $2`, TModuleJob)

	listJobsCmd = fmt.Sprintf(
		`SELECT * FROM %s WHERE scan_id = $1 ORDER BY created_at asc`, TModuleJob)
	listJobsForAssetCmd = fmt.Sprintf(
		`SELECT * FROM %s WHERE scan_id = $1 AND asset_id = $2 ORDER BY created_at asc`, TModuleJob)

	// Engine-side terminal writes guard on non-terminal status so a
	// worker's own terminal transition always wins the race.
	markJobFailedCmd = fmt.Sprintf(`UPDATE %s
		SET status = '%s', completed_at = $1, error_message = $2
		WHERE job_id = $3 AND status NOT IN ('%s', '%s', '%s')`,
		TModuleJob, JobFailed, JobCompleted, JobFailed, JobTimeout)
)

// InsertModuleJobs inserts all pending job rows of one pipeline in a
// single transaction. A still-active row for the same
// (scan_id, asset_id, module) violates the partial unique index and
// surfaces as DuplicateJob; the transaction is rolled back whole.
func (c *Client) InsertModuleJobs(ctx context.Context, jobs []*ModuleJob) error {
	if len(jobs) == 0 {
		return nil
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		cmd := generateCommand(*job, insertModuleJobFormat, "id")
		if _, err = tx.NamedExecContext(ctx, cmd, job); err != nil {
			_ = tx.Rollback()
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
				return commonerrors.NewDuplicateJob(fmt.Sprintf(
					"module %s is already active for scan %s asset %s",
					job.Module, job.ScanId, job.AssetId))
			}
			klog.ErrorS(err, "failed to insert module job",
				"scan", job.ScanId, "asset", job.AssetId, "module", job.Module)
			return err
		}
	}
	return tx.Commit()
}

func (c *Client) AttachTaskHandle(ctx context.Context, jobId, handle string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, attachTaskHandleCmd, handle, jobId); err != nil {
		klog.ErrorS(err, "failed to attach task handle", "job", jobId)
		return err
	}
	return nil
}

func (c *Client) ListJobs(ctx context.Context, scanId string) ([]*ModuleJob, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var jobs []*ModuleJob
	ctx2, cancel := c.requestContext(ctx)
	defer cancel()
	err = db.SelectContext(ctx2, &jobs, listJobsCmd, scanId)
	return jobs, err
}

func (c *Client) ListJobsForAsset(ctx context.Context, scanId, assetId string) ([]*ModuleJob, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var jobs []*ModuleJob
	ctx2, cancel := c.requestContext(ctx)
	defer cancel()
	err = db.SelectContext(ctx2, &jobs, listJobsForAssetCmd, scanId, assetId)
	return jobs, err
}

// GetJobStatuses is the hot path polled by the pipeline monitor. It
// reads a reduced projection and tolerates workers updating rows
// concurrently; callers treat the result as a snapshot.
func (c *Client) GetJobStatuses(ctx context.Context, jobIds []string) (map[string]*JobStatusView, error) {
	if len(jobIds) == 0 {
		return map[string]*JobStatusView{}, nil
	}
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	sql, args, err := sqrl.Select("job_id", "module", "status", "completed_at").
		PlaceholderFormat(sqrl.Dollar).
		From(TModuleJob).
		Where(sqrl.Eq{"job_id": jobIds}).ToSql()
	if err != nil {
		return nil, err
	}
	var views []*JobStatusView
	ctx2, cancel := c.requestContext(ctx)
	defer cancel()
	if err = db.SelectContext(ctx2, &views, sql, args...); err != nil {
		return nil, err
	}
	result := make(map[string]*JobStatusView, len(views))
	for _, view := range views {
		result[view.JobId] = view
	}
	return result, nil
}

func (c *Client) MarkJobFailed(ctx context.Context, jobId, message string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, markJobFailedCmd, time.Now().UTC(), message, jobId); err != nil {
		klog.ErrorS(err, "failed to mark job failed", "job", jobId)
		return err
	}
	return nil
}

// MarkJobsTimeout records the timeout status on every listed job that
// never reached a terminal status. Used by the pipeline once its hard
// budget elapses.
func (c *Client) MarkJobsTimeout(ctx context.Context, jobIds []string) error {
	if len(jobIds) == 0 {
		return nil
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	sql, args, err := sqrl.Update(TModuleJob).
		PlaceholderFormat(sqrl.Dollar).
		Set("status", string(JobTimeout)).
		Set("completed_at", time.Now().UTC()).
		Set("error_message", "worker did not reach a terminal status within budget").
		Where(sqrl.Eq{"job_id": jobIds}).
		Where(sqrl.NotEq{"status": []string{
			string(JobCompleted), string(JobFailed), string(JobTimeout)}}).ToSql()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, sql, args...); err != nil {
		klog.ErrorS(err, "failed to mark jobs timeout", "count", len(jobIds))
		return err
	}
	return nil
}
