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

package sobriety

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/api"
	"github.com/ma12/companion-api/pkg/apiresponses"
	"github.com/ma12/companion-api/pkg/audit"
	"github.com/ma12/companion-api/pkg/store"
	"github.com/ma12/companion-api/pkg/system"
	"github.com/ma12/companion-api/pkg/validation"
)

const (
	msgCreated      = "Sobriety date created successfully"
	msgUpdated      = "Sobriety date updated successfully"
	msgRetrieved    = "Sobriety date retrieved successfully"
	msgNotFound     = "Sobriety not found"
	msgCreateFailed = "An error occurred while creating sobriety date"
	msgUpdateFailed = "An error occurred while updating sobriety date"
	msgFetchFailed  = "An error occurred while retrieving sobriety date"
)

type Controller struct {
	service    *Service
	auditor    *audit.Manager
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

// NewController serves the sobriety-date routes. A nil auditor disables audit events.
func NewController(service *Service, auditor *audit.Manager, log *zap.SugaredLogger, middleware ...gin.HandlerFunc) *Controller {
	return &Controller{service: service, auditor: auditor, log: log, middleware: middleware}
}

func (*Controller) BasePath() string {
	return "sobriety-date"
}

func (sc *Controller) Handlers() []gin.HandlerFunc {
	return sc.middleware
}

func (sc *Controller) Register(rg *gin.RouterGroup) error {
	rg.POST("", api.InstrumentedHandler("sobriety_create", sc.handleCreate))
	rg.PUT(":device_id", api.InstrumentedHandler("sobriety_update", sc.handleUpdate))
	rg.GET(":device_id", api.InstrumentedHandler("sobriety_fetch", sc.handleFetch))
	return nil
}

func (sc *Controller) handleCreate(c *gin.Context) {
	var req CreateRequest
	if !api.BindJSON(c, &req, sc.log) {
		return
	}
	rec, err := sc.service.Create(c.Request.Context(), req)
	if ve, ok := validation.AsErrors(err); ok {
		apiresponses.RespondValidation(c, ve)
		return
	}
	if err != nil {
		apiresponses.RespondInternalError(c, "create sobriety date", msgCreateFailed, err, system.GetReqLogger(c, sc.log))
		return
	}
	sc.auditor.SobrietyDateWritten(c.Request.Context(), rec, true, api.RequestID(c))
	apiresponses.RespondSuccess(c, http.StatusCreated, msgCreated, rec)
}

func (sc *Controller) handleUpdate(c *gin.Context) {
	var req UpdateRequest
	if !api.BindJSON(c, &req, sc.log) {
		return
	}
	rec, err := sc.service.Update(c.Request.Context(), c.Param("device_id"), req)
	if ve, ok := validation.AsErrors(err); ok {
		apiresponses.RespondValidation(c, ve)
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		apiresponses.RespondNotFound(c, msgNotFound)
	case err != nil:
		apiresponses.RespondInternalError(c, "update sobriety date", msgUpdateFailed, err, system.GetReqLogger(c, sc.log))
	default:
		sc.auditor.SobrietyDateWritten(c.Request.Context(), rec, false, api.RequestID(c))
		apiresponses.RespondSuccess(c, http.StatusOK, msgUpdated, rec)
	}
}

func (sc *Controller) handleFetch(c *gin.Context) {
	rec, err := sc.service.Fetch(c.Request.Context(), c.Param("device_id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		apiresponses.RespondSoftMiss(c, msgNotFound)
	case err != nil:
		apiresponses.RespondInternalError(c, "fetch sobriety date", msgFetchFailed, err, system.GetReqLogger(c, sc.log))
	default:
		apiresponses.RespondSuccess(c, http.StatusOK, msgRetrieved, rec)
	}
}
