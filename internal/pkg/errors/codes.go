package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Auth errors (2000-2999)
	ErrAuthInvalidToken = 2000
	ErrAuthTokenExpired = 2001

	// Upload errors (3000-3999)
	ErrChunkConflict    = 3000
	ErrUploadIncomplete = 3001
	ErrHashMismatch     = 3002
	ErrStorageFailed    = 3003
	ErrChunkTooLarge    = 3004
	ErrSessionNotFound  = 3005
	ErrUploadAbandoned  = 3006

	// File errors (3100-3199)
	ErrFileNotFound   = 3100
	ErrFolderNotFound = 3101
	ErrInvalidParent  = 3102
	ErrNotAFolder     = 3103
	ErrFileDeleted    = 3104

	// Idempotency errors (4000-4999)
	ErrDuplicateInFlight = 4000
	ErrMissingIdentity   = 4001
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// Auth errors
	ErrAuthInvalidToken: {ErrAuthInvalidToken, http.StatusUnauthorized, "Invalid or expired token"},
	ErrAuthTokenExpired: {ErrAuthTokenExpired, http.StatusUnauthorized, "Token expired"},

	// Upload errors
	ErrChunkConflict:    {ErrChunkConflict, http.StatusConflict, "Chunk index already recorded with different content"},
	ErrUploadIncomplete: {ErrUploadIncomplete, http.StatusBadRequest, "Upload is missing one or more chunks"},
	ErrHashMismatch:     {ErrHashMismatch, http.StatusBadRequest, "Assembled content does not match declared hash"},
	ErrStorageFailed:    {ErrStorageFailed, http.StatusServiceUnavailable, "Storage operation failed"},
	ErrChunkTooLarge:    {ErrChunkTooLarge, http.StatusBadRequest, "Chunk size exceeds limit"},
	ErrSessionNotFound:  {ErrSessionNotFound, http.StatusNotFound, "Upload session not found or expired"},
	ErrUploadAbandoned:  {ErrUploadAbandoned, http.StatusGone, "Upload session abandoned after repeated failures"},

	// File errors
	ErrFileNotFound:   {ErrFileNotFound, http.StatusNotFound, "File not found"},
	ErrFolderNotFound: {ErrFolderNotFound, http.StatusNotFound, "Folder not found"},
	ErrInvalidParent:  {ErrInvalidParent, http.StatusBadRequest, "Parent must be an existing folder"},
	ErrNotAFolder:     {ErrNotAFolder, http.StatusBadRequest, "Target node is not a folder"},
	ErrFileDeleted:    {ErrFileDeleted, http.StatusGone, "File has been deleted"},

	// Idempotency errors
	ErrDuplicateInFlight: {ErrDuplicateInFlight, http.StatusTooManyRequests, "Duplicate in-flight request, try again shortly"},
	ErrMissingIdentity:   {ErrMissingIdentity, http.StatusInternalServerError, "No authenticated user in request context"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// FormatError formats an error message with optional details
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsRetryable reports whether the caller may safely re-submit the request
func IsRetryable(code int) bool {
	return code == ErrStorageFailed || code == ErrServiceUnavail
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}
