package utils

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type JSONResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the structured error body shared by every service.
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Kind    ErrorKind              `json:"kind"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	})
}

// RespondError maps err onto its HTTP status and error body. Errors that are
// not AppErrors are reported as Internal and never leak their text.
func RespondError(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewInternal(err)
	}

	body := ErrorResponse{
		Status:  StatusError,
		Kind:    appErr.Kind,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	switch appErr.Kind {
	case KindInternal:
		body.Message = "internal server error"
		body.Detail = nil
		ErrorLogger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Errorf("request failed: %v", err)
	case KindDownstreamUnavailable:
		ErrorLogger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Warnf("downstream failure: %v", err)
	}

	c.AbortWithStatusJSON(HTTPStatus(appErr.Kind), body)
}
