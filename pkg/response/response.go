package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body 统一响应结构
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Detail  string      `json:"errorDetail,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

// Created 资源创建成功
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Body{Code: 0, Message: message, Data: data})
}

// Fail 失败响应（HTTP 400）
func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: -1, Message: message, Data: data})
}

// FailWithStatus 指定状态码与错误详情的失败响应
func FailWithStatus(c *gin.Context, status int, code int, message, detail string, data interface{}) {
	c.JSON(status, Body{Code: code, Message: message, Detail: detail, Data: data})
}
