package response

import (
	"errors"
	"net/http"

	"walletauth/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 中间件写入 gin.Context 的键
const (
	LoggerKey    = "logger"
	RequestIDKey = "request_id"
)

const CodeSuccess = 0

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Kind      string      `json:"kind,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		Data:      data,
		RequestID: c.GetString(RequestIDKey),
	})
}

// Fail 按错误分类写出 HTTP 状态码
// integrity、external_dependency 和未知错误记录 error 日志，其余只记 info
func Fail(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.ErrInternal.Wrap(err)
	}

	status := apperr.HTTPStatus(appErr.Kind)
	entry := Logger(c).WithFields(logrus.Fields{
		"code": appErr.Code,
		"kind": appErr.Kind,
	}).WithError(err)
	if apperr.NeedsAlert(appErr.Kind) {
		entry.Error("请求处理失败")
	} else {
		entry.Info("请求被拒绝")
	}

	// 内部错误不向调用方暴露细节
	msg := appErr.Msg
	if appErr.Kind == apperr.KindInternal {
		msg = apperr.ErrInternal.Msg
	}

	c.AbortWithStatusJSON(status, Response{
		Code:      appErr.Code,
		Message:   msg,
		Kind:      string(appErr.Kind),
		RequestID: c.GetString(RequestIDKey),
	})
}

// Logger 取出请求级别的日志，没有时退回标准 logger
func Logger(c *gin.Context) logrus.FieldLogger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return logrus.StandardLogger()
}
