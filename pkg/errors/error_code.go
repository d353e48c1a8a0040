/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const NeobotnetPrefix = "Neobotnet."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00–99), used to distinguish errors from different business interfaces.
   00: General errors
   01: Scan-related errors
   02: Module registry errors
   03: Worker launch errors
   [yyy] Error code range (000–999)
*/

// public: 00xxx
const (
	InternalError       = NeobotnetPrefix + "00001"
	BadRequest          = NeobotnetPrefix + "00002"
	Forbidden           = NeobotnetPrefix + "00003"
	AlreadyExist        = NeobotnetPrefix + "00004"
	NotFound            = NeobotnetPrefix + "00005"
	Unauthorized        = NeobotnetPrefix + "00006"
	InfrastructureError = NeobotnetPrefix + "00007"
)

// scan: 01xxx
const (
	ScanNotFound       = NeobotnetPrefix + "01001"
	DuplicateJob       = NeobotnetPrefix + "01002"
	ConfigurationError = NeobotnetPrefix + "01003"
	AmbiguousProducer  = NeobotnetPrefix + "01004"
	ScanNotCancellable = NeobotnetPrefix + "01005"
)

// registry: 02xxx
const (
	UnknownModule   = NeobotnetPrefix + "02001"
	ModuleDisabled  = NeobotnetPrefix + "02002"
	ConfigLoadError = NeobotnetPrefix + "02003"
)

// launcher: 03xxx
const (
	LaunchRejected            = NeobotnetPrefix + "03001"
	LaunchInfrastructureError = NeobotnetPrefix + "03002"
	ImageUnavailable          = NeobotnetPrefix + "03003"
)

// IsNeobotnet returns true if the specified error carries a neobotnet reason.
func IsNeobotnet(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(string(apierrors.ReasonForError(err)), NeobotnetPrefix)
}

func IsBadRequest(err error) bool {
	return apierrors.ReasonForError(err) == BadRequest
}

func IsInternal(err error) bool {
	return apierrors.ReasonForError(err) == InternalError
}

func IsNotFound(err error) bool {
	reason := apierrors.ReasonForError(err)
	return reason == NotFound || reason == ScanNotFound
}

func IsUnknownModule(err error) bool {
	return apierrors.ReasonForError(err) == UnknownModule
}

func IsDuplicateJob(err error) bool {
	return apierrors.ReasonForError(err) == DuplicateJob
}

func IsConfiguration(err error) bool {
	reason := apierrors.ReasonForError(err)
	return reason == ConfigurationError || reason == AmbiguousProducer
}

func IsInfrastructure(err error) bool {
	return apierrors.ReasonForError(err) == InfrastructureError
}

func IsLaunchRejected(err error) bool {
	return apierrors.ReasonForError(err) == LaunchRejected
}

func IsLaunchInfrastructure(err error) bool {
	return apierrors.ReasonForError(err) == LaunchInfrastructureError
}

func IgnoreFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func GetErrorCode(err error) string {
	if err == nil || !IsNeobotnet(err) {
		return ""
	}
	return string(apierrors.ReasonForError(err))
}

func NewBadRequest(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  BadRequest,
		Message: fmt.Sprintf("Bad request. %s", message),
	}}
}

func NewInternalError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  InternalError,
		Message: fmt.Sprintf("Internal error. %s", message),
	}}
}

func NewInfrastructureError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusServiceUnavailable,
		Reason:  InfrastructureError,
		Message: message,
	}}
}

func NewForbidden(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusForbidden,
		Reason:  Forbidden,
		Message: message,
	}}
}

func NewAlreadyExist(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  AlreadyExist,
		Message: message,
	}}
}

func NewNotFoundWithMessage(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotFound,
		Reason:  NotFound,
		Message: message,
	}}
}

func NewScanNotFound(scanId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotFound,
		Reason:  ScanNotFound,
		Message: fmt.Sprintf("scan %s not found", scanId),
	}}
}

func NewScanNotCancellable(scanId, status string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  ScanNotCancellable,
		Message: fmt.Sprintf("scan %s is already %s", scanId, status),
	}}
}

func NewDuplicateJob(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  DuplicateJob,
		Message: message,
	}}
}

func NewUnknownModule(name string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  UnknownModule,
		Message: fmt.Sprintf("unknown module %q", name),
	}}
}

func NewModuleDisabled(name string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  ModuleDisabled,
		Message: fmt.Sprintf("module %q is disabled", name),
	}}
}

func NewConfigLoadError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  ConfigLoadError,
		Message: message,
	}}
}

func NewConfigurationError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnprocessableEntity,
		Reason:  ConfigurationError,
		Message: message,
	}}
}

func NewAmbiguousProducer(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnprocessableEntity,
		Reason:  AmbiguousProducer,
		Message: message,
	}}
}

func NewLaunchRejected(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusTooManyRequests,
		Reason:  LaunchRejected,
		Message: message,
	}}
}

func NewLaunchInfrastructureError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusServiceUnavailable,
		Reason:  LaunchInfrastructureError,
		Message: message,
	}}
}

func NewImageUnavailable(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusFailedDependency,
		Reason:  ImageUnavailable,
		Message: message,
	}}
}

func NewUnauthorized(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnauthorized,
		Reason:  Unauthorized,
		Message: message,
	}}
}
