package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func newAPIResponse(success bool, message string, data any) APIResponse {
	return APIResponse{
		Success:   success,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

func SendAPIResponse(c *gin.Context, code int, success bool, message string, data any) {
	c.JSON(code, newAPIResponse(success, message, data))
}

// AbortWithAPIResponse writes a failure envelope and stops the handler chain.
func AbortWithAPIResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, newAPIResponse(false, message, nil))
}
