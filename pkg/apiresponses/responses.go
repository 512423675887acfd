/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	MessageValidationFailed = "Validation failed"
	MessageRateLimited      = "Too many requests. Please try again later."
	MessageUnauthorized     = "Unauthenticated."
)

// Envelope is the body of every API response.
type Envelope struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message,omitempty"`
	Data        any                 `json:"data,omitempty"`
	Errors      map[string][]string `json:"errors,omitempty"`
	ReferenceID string              `json:"reference_id,omitempty"`
}

// RespondSuccess sends a successful envelope with the given status (200 or 201).
func RespondSuccess(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// RespondCreatedWithReference sends 201 with a client-facing reference id.
func RespondCreatedWithReference(c *gin.Context, message string, data any, referenceID string) {
	c.JSON(http.StatusCreated, Envelope{
		Success:     true,
		Message:     message,
		Data:        data,
		ReferenceID: referenceID,
	})
}

// RespondValidation sends 422 with the per-field messages.
func RespondValidation(c *gin.Context, errs map[string][]string) {
	c.JSON(http.StatusUnprocessableEntity, Envelope{
		Success: false,
		Message: MessageValidationFailed,
		Errors:  errs,
	})
}

// RespondNotFound sends a 404 with message.
func RespondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Envelope{
		Success: false,
		Message: message,
	})
}

// RespondSoftMiss reports a missing record with 200 and success=false.
// Read endpoints use it so that "nothing saved yet" is not an HTTP error for clients.
func RespondSoftMiss(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Envelope{
		Success: false,
		Message: message,
	})
}

func RespondUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{
		Success: false,
		Message: MessageUnauthorized,
	})
}

func RespondTooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Envelope{
		Success: false,
		Message: MessageRateLimited,
	})
}

// RespondInternalError sends a 500 Internal Server Error response.
// It logs the error with full details but returns the sanitized message to the client.
func RespondInternalError(c *gin.Context, operation, message string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	c.JSON(http.StatusInternalServerError, Envelope{
		Success: false,
		Message: message,
	})
}

// RespondServiceUnavailable sends a 503 naming the unavailable dependency.
func RespondServiceUnavailable(c *gin.Context, service string) {
	c.JSON(http.StatusServiceUnavailable, Envelope{
		Success: false,
		Message: fmt.Sprintf("service unavailable: %s", service),
	})
}
