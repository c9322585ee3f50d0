package models

import "errors"

var (
	// ErrPermissionDenied - camera or audio access refused by the operator or platform
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceUnavailable - enumeration or stream acquisition failed
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrDeviceLost - the active camera disappeared while streaming
	ErrDeviceLost = errors.New("device lost")
	// ErrCaptureNotReady - no active stream or frame dimensions unknown
	ErrCaptureNotReady = errors.New("capture not ready")
	// ErrInferenceRequestFailed - network error or non-2xx from the inference endpoint
	ErrInferenceRequestFailed = errors.New("inference request failed")
	// ErrMalformedResponse - inference body could not be decoded
	ErrMalformedResponse = errors.New("malformed inference response")
	// ErrLogFetchFailed - detection log page could not be fetched
	ErrLogFetchFailed = errors.New("detection log fetch failed")
)
