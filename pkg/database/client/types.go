/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"
)

const (
	DESC = "desc"
	ASC  = "asc"
)

type ScanStatus string

const (
	ScanPending        ScanStatus = "pending"
	ScanRunning        ScanStatus = "running"
	ScanCompleted      ScanStatus = "completed"
	ScanPartialFailure ScanStatus = "partial_failure"
	ScanFailed         ScanStatus = "failed"
	ScanCancelled      ScanStatus = "cancelled"
)

// IsTerminal reports whether the scan status is write-once terminal.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanCompleted, ScanPartialFailure, ScanFailed, ScanCancelled:
		return true
	}
	return false
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimeout   JobStatus = "timeout"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout:
		return true
	}
	return false
}

// Scan is one row of the scans table. The orchestrator is its only
// writer; workers never touch it.
type Scan struct {
	Id              int64          `db:"id"`
	ScanId          string         `db:"scan_id"`
	OwnerId         string         `db:"owner_id"`
	Status          string         `db:"status"`
	ExecutionMode   string         `db:"execution_mode"`
	CorrelationId   string         `db:"correlation_id"`
	AssetsRequested int            `db:"assets_requested"`
	AssetsCompleted int            `db:"assets_completed"`
	AssetsFailed    int            `db:"assets_failed"`
	AssetsPartial   int            `db:"assets_partial"`
	RequestedTime   pq.NullTime    `db:"requested_at"`
	StartTime       pq.NullTime    `db:"started_at"`
	EndTime         pq.NullTime    `db:"completed_at"`
	Message         sql.NullString `db:"message"`
}

// GetScanFieldTags returns the ScanFieldTags value.
func GetScanFieldTags() map[string]string {
	s := Scan{}
	return getFieldTags(s)
}

// ModuleJob is one row of the module_jobs table, one per
// (scan, asset, module) execution. The pipeline inserts rows in pending
// and attaches task handles; the owning worker performs the terminal
// transition. The only terminal writes performed engine-side are launch
// failure, cancellation and timeout classification.
type ModuleJob struct {
	Id           int64          `db:"id"`
	JobId        string         `db:"job_id"`
	ScanId       string         `db:"scan_id"`
	AssetId      string         `db:"asset_id"`
	OwnerId      string         `db:"owner_id"`
	Module       string         `db:"module"`
	Role         string         `db:"role"`
	Status       string         `db:"status"`
	TaskHandle   sql.NullString `db:"task_handle"`
	CreateTime   pq.NullTime    `db:"created_at"`
	StartTime    pq.NullTime    `db:"started_at"`
	EndTime      pq.NullTime    `db:"completed_at"`
	ResultCount  sql.NullInt64  `db:"result_count"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// GetModuleJobFieldTags returns the ModuleJobFieldTags value.
func GetModuleJobFieldTags() map[string]string {
	j := ModuleJob{}
	return getFieldTags(j)
}

// JobStatusView is the reduced projection polled by the pipeline.
type JobStatusView struct {
	JobId   string      `db:"job_id"`
	Module  string      `db:"module"`
	Status  string      `db:"status"`
	EndTime pq.NullTime `db:"completed_at"`
}

// getFieldTags retrieves FieldTags for internal use.
func getFieldTags(obj interface{}) map[string]string {
	result := make(map[string]string)
	t := reflect.TypeOf(obj)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		result[strings.ToLower(field.Name)] = field.Tag.Get("db")
	}
	return result
}

// GetFieldTag returns the FieldTag value.
func GetFieldTag(tags map[string]string, name string) string {
	name = strings.ToLower(name)
	return tags[name]
}

// generateCommand generates SQL command string using reflection.
// Iterates through struct fields and builds column and value lists,
// skipping fields with the specified ignoreTag.
func generateCommand(obj interface{}, format, ignoreTag string) string {
	t := reflect.TypeOf(obj)
	columns := make([]string, 0, t.NumField())
	values := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("db")
		if tag == ignoreTag {
			continue
		}
		columns = append(columns, tag)
		values = append(values, fmt.Sprintf(":%s", tag))
	}
	return fmt.Sprintf(format, strings.Join(columns, ", "), strings.Join(values, ", "))
}
