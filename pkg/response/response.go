// Package response defines the JSON envelope every REST endpoint returns.
package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse is the common envelope: clients check Success, show Message,
// and unwrap Data.
type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SendAPIResponse writes the envelope with the given status code.
func SendAPIResponse(c *gin.Context, code int, success bool, message string, data any) {
	c.JSON(code, APIResponse{
		Success:   success,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	})
}
