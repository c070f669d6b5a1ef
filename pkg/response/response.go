// Package response 统一的 JSON 响应格式: {"code", "msg", "data"}, 失败时带 "reason"
package response

import (
	"net/http"

	"campus-chat/pkg/apperr"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code   int         `json:"code"`
	Msg    string      `json:"msg"`
	Reason string      `json:"reason,omitempty"`
	Data   interface{} `json:"data"`
}

func Success(c *gin.Context, status int, msg string, data interface{}) {
	c.JSON(status, Body{Code: status, Msg: msg, Data: data})
}

func OK(c *gin.Context, data interface{}) {
	Success(c, http.StatusOK, "success", data)
}

// Fail 按错误类别写出状态码, 内部错误只返回通用消息
func Fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	reason, msg := apperr.Public(err)
	c.JSON(status, Body{Code: status, Msg: msg, Reason: reason})
}
