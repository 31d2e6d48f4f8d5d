// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string              `json:"error"`
	Kind      string              `json:"kind"`
	RequestID string              `json:"requestId,omitempty"`
	Fields    []models.FieldError `json:"fields,omitempty"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound, metrics.ResultNotFound
	case errors.Is(err, persistence.ErrValidation):
		return http.StatusBadRequest, metrics.ResultValidation
	case errors.Is(err, persistence.ErrConflict):
		return http.StatusConflict, metrics.ResultConflict
	case errors.Is(err, persistence.ErrNotReady):
		return http.StatusServiceUnavailable, metrics.ResultNotReady
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, metrics.ResultCanceled
	default:
		return http.StatusInternalServerError, metrics.ResultFault
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, kind := statusFor(err)

	resp := ErrorResponse{Error: err.Error(), Kind: kind, RequestID: c.GetString(RequestIDHeader)}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status == http.StatusInternalServerError {
		metrics.IncErrorCountAndLog(metrics.ComponentAPI, err, s.log)
	}

	c.AbortWithStatusJSON(status, resp)
}

func badRequest(field, message string) error {
	return &models.ValidationError{Record: "request", Fields: []models.FieldError{{Field: field, Message: message}}}
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("id", "must be a positive integer")
	}

	return id, nil
}

func queryInt64(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}

	return v, nil
}

func bindJSON(c *gin.Context, dest interface{}) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		return badRequest("body", err.Error())
	}

	return nil
}
