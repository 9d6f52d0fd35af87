package ginx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"hnsync/pkg/errorutil"
)

// CodeProcessing 任务已入队，结果异步返回
const CodeProcessing = 3001

// Response 统一响应结构
type Response struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data,omitempty"`
}

// Meta 元数据
type Meta struct {
	Code      int           `json:"code"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable,omitempty"`
	Details   []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Path string `json:"path"`
	Info string `json:"info"`
}

// ProcessingData 异步同步入队后返回的数据
type ProcessingData struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	PollURL   string `json:"poll_url"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Meta: Meta{Code: http.StatusOK, Message: "OK"},
		Data: data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, Response{
		Meta: Meta{Code: httpCode, Message: message},
	})
}

// Processing 已入队响应（3001）
func Processing(c *gin.Context, data ProcessingData) {
	c.JSON(http.StatusAccepted, Response{
		Meta: Meta{Code: CodeProcessing, Message: "Sync enqueued, please poll for results"},
		Data: data,
	})
}

// FromError 按 errorutil.Error 的 Code 映射 HTTP 状态码
func FromError(c *gin.Context, err error) {
	var e *errorutil.Error
	if !errors.As(err, &e) {
		InternalError(c, err.Error())
		return
	}

	status := e.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Meta: Meta{Code: status, Message: e.Message, Retryable: e.Retryable},
	})
}

// BadRequest 400 错误
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// BadRequestWithValidation 400 错误（带验证详情）
func BadRequestWithValidation(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make([]ErrorDetail, 0, len(validationErrs))
		for _, fieldErr := range validationErrs {
			details = append(details, ErrorDetail{
				Path: fieldErr.Field(),
				Info: validationMessage(fieldErr),
			})
		}
		c.JSON(http.StatusBadRequest, Response{
			Meta: Meta{Code: http.StatusBadRequest, Message: "Validation failed", Details: details},
		})
		return
	}

	BadRequest(c, err.Error())
}

// NotFound 404 错误
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// InternalError 500 错误
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// validationMessage 根据验证错误类型返回友好的错误消息
func validationMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return fieldErr.Field() + " is required"
	case "datetime":
		return fieldErr.Field() + " must be a date in " + fieldErr.Param() + " format"
	case "gte":
		return fieldErr.Field() + " must be at least " + fieldErr.Param()
	default:
		return fieldErr.Field() + " is invalid"
	}
}
