package handler

import (
	"errors"
	"net/http"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/logger"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// FailResponse 按错误分类返回
func FailResponse(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		logger.Error("Unclassified error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(apperr.HTTPStatus(e), Response{
		Success: false,
		Message: e.Error(),
		Data: ErrorDetail{
			Kind:  string(e.Kind),
			Rule:  e.Rule,
			State: e.State,
		},
	})
}
