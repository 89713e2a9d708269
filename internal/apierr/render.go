package apierr

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

// problemBody is the JSON shape for non-stream error responses.
type problemBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details problemDetails `json:"details"`
}

// problemDetails carries the error kind for client-side dispatch.
type problemDetails struct {
	Type string `json:"type"`
}

// RenderJSON writes the error as a structured problem body and aborts the
// request. Only valid before response headers have been sent.
func RenderJSON(c *gin.Context, err error) {
	typed := From(err)
	c.AbortWithStatusJSON(typed.HTTPStatus(), problemBody{
		Code:    typed.Code,
		Message: typed.Message,
		Details: problemDetails{Type: string(typed.Kind)},
	})
}

// SSEErrorEvent encodes the error as the payload for a final SSE data event.
// Used when headers are already on the wire and the status cannot change.
func SSEErrorEvent(err error) []byte {
	typed := From(err)
	payload := map[string]any{
		"error": problemBody{
			Code:    typed.Code,
			Message: typed.Message,
			Details: problemDetails{Type: string(typed.Kind)},
		},
	}
	data, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return []byte(`{"error":{"code":"stream_error","message":"stream failed"}}`)
	}
	return data
}
