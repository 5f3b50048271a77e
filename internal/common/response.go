package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailErr maps a classified error onto the JSON envelope.
func FailErr(c *gin.Context, err error) {
	kind := KindOf(err)
	Fail(c, kind.HTTPStatus(), kind.BusinessCode(), UserMessage(err))
}
