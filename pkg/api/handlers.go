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

package api

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/apiresponses"
	"github.com/ma12/companion-api/pkg/metrics"
	"github.com/ma12/companion-api/pkg/system"
	"github.com/ma12/companion-api/pkg/validation"
)

// InstrumentedHandler wraps a gin handler to record API metrics consistently.
// It tracks request counts, latency, and error status codes for the provided endpoint label.
func InstrumentedHandler(endpoint string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.APIEndpointRequests.WithLabelValues(endpoint).Inc()
		handler(c)
		metrics.APIEndpointDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		status := c.Writer.Status()
		if status >= 400 {
			metrics.APIEndpointErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		}
	}
}

// BindJSON decodes the request body into dst. An empty body leaves dst zeroed so
// the field rules report what is missing. On a malformed body it writes a 422 and
// returns false.
func BindJSON(c *gin.Context, dst any, log *zap.SugaredLogger) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	system.GetReqLogger(c, log).Debugw("Rejecting malformed request body", "error", err)
	apiresponses.RespondValidation(c, validation.MalformedBody())
	return false
}

// RequestID returns the id assigned by system.RequestLogger, or "" outside of it.
func RequestID(c *gin.Context) string {
	return c.Writer.Header().Get(system.RequestIDHeader)
}
