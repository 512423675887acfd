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

package support

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/api"
	"github.com/ma12/companion-api/pkg/apiresponses"
	"github.com/ma12/companion-api/pkg/audit"
	"github.com/ma12/companion-api/pkg/system"
	"github.com/ma12/companion-api/pkg/validation"
)

const (
	msgSubmitFailed = "An error occurred while processing your support request. Please try again later."
	msgStatsFailed  = "Unable to retrieve statistics at this time."
)

type ControllerOptions struct {
	// StatsToken guards the stats route when set.
	StatsToken string
	// SubmitMiddleware runs before the submit handler, typically a rate limiter.
	SubmitMiddleware []gin.HandlerFunc
}

type Controller struct {
	service *Service
	auditor *audit.Manager
	log     *zap.SugaredLogger
	opts    ControllerOptions
}

func NewController(service *Service, auditor *audit.Manager, log *zap.SugaredLogger, opts ControllerOptions) *Controller {
	return &Controller{service: service, auditor: auditor, log: log, opts: opts}
}

func (*Controller) BasePath() string {
	return "support-form"
}

func (*Controller) Handlers() []gin.HandlerFunc {
	return nil
}

func (sc *Controller) Register(rg *gin.RouterGroup) error {
	submit := append(append([]gin.HandlerFunc{}, sc.opts.SubmitMiddleware...), api.InstrumentedHandler("support_submit", sc.handleSubmit))
	rg.POST("", submit...)
	rg.GET("stats", sc.requireStatsToken, api.InstrumentedHandler("support_stats", sc.handleStats))
	return nil
}

func (sc *Controller) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if !api.BindJSON(c, &req, sc.log) {
		return
	}
	res, err := sc.service.Submit(c.Request.Context(), req)
	if ve, ok := validation.AsErrors(err); ok {
		apiresponses.RespondValidation(c, ve)
		return
	}
	if err != nil {
		apiresponses.RespondInternalError(c, "submit support form", msgSubmitFailed, err, system.GetReqLogger(c, sc.log))
		return
	}
	sc.auditor.SupportFormSubmitted(c.Request.Context(), res.Submission, api.RequestID(c))
	apiresponses.RespondCreatedWithReference(c, res.Message, res.Submission, res.ReferenceID)
}

func (sc *Controller) handleStats(c *gin.Context) {
	st, err := sc.service.Stats(c.Request.Context())
	if err != nil {
		apiresponses.RespondInternalError(c, "retrieve support form stats", msgStatsFailed, err, system.GetReqLogger(c, sc.log))
		return
	}
	apiresponses.RespondSuccess(c, http.StatusOK, "", st)
}

func (sc *Controller) requireStatsToken(c *gin.Context) {
	if sc.opts.StatsToken == "" {
		c.Next()
		return
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(sc.opts.StatsToken)) != 1 {
		system.GetReqLogger(c, sc.log).Debugw("Rejecting stats request without a valid token")
		apiresponses.RespondUnauthorized(c)
		return
	}
	c.Next()
}
