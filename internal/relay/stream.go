package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/audit"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/provider"
)

const streamDoneFrame = "data: [DONE]\n\n"

// streamCompletion relays upstream chunks to the caller as SSE frames,
// flushing after every write so slow upstreams surface tokens as they land.
// The request context rides along to the upstream call, so a client
// disconnect cancels the upstream read; a cancelled stream is never metered.
func (r *Relay) streamCompletion(c *gin.Context, identity auth.Identity, resolved catalog.Resolved, client provider.Client, chatReq provider.ChatRequest) {
	ctx := c.Request.Context()
	requestedAt := time.Now()

	stream, errOpen := client.StreamCompletion(ctx, chatReq)
	if errOpen != nil {
		r.recorder.Record(audit.Event{
			UserID:      identity.UserID,
			APIKeyID:    identity.APIKeyID,
			Provider:    string(resolved.Provider.Type),
			Model:       resolved.Model.ModelID,
			RequestedAt: requestedAt,
			Streamed:    true,
			Failed:      true,
		})
		apierr.RenderJSON(c, errOpen)
		return
	}
	defer stream.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	var usage *openai.Usage
	for {
		chunk, errRecv := stream.Recv()
		if errors.Is(errRecv, io.EOF) {
			break
		}
		if errRecv != nil {
			if ctx.Err() != nil {
				// Client walked away; the upstream read was cancelled with
				// it. Nothing observable was delivered in full, so nothing
				// is charged.
				log.WithFields(log.Fields{
					"user_id": identity.UserID,
					"model":   resolved.Model.ModelID,
				}).Info("relay: stream cancelled by client")
				return
			}
			r.writeStreamError(c, errRecv)
			r.recorder.Record(audit.Event{
				UserID:      identity.UserID,
				APIKeyID:    identity.APIKeyID,
				Provider:    string(resolved.Provider.Type),
				Model:       resolved.Model.ModelID,
				RequestedAt: requestedAt,
				Streamed:    true,
				Failed:      true,
			})
			return
		}

		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		chunk.Model = resolved.Model.ModelID
		if !r.writeChunk(c, chunk) {
			return
		}
	}

	if _, errWrite := fmt.Fprint(c.Writer, streamDoneFrame); errWrite == nil {
		c.Writer.Flush()
	}

	if usage == nil {
		log.WithFields(log.Fields{
			"user_id": identity.UserID,
			"model":   resolved.Model.ModelID,
		}).Warn("relay: stream finished without usage, nothing metered")
		r.recorder.Record(audit.Event{
			UserID:      identity.UserID,
			APIKeyID:    identity.APIKeyID,
			Provider:    string(resolved.Provider.Type),
			Model:       resolved.Model.ModelID,
			RequestedAt: requestedAt,
			Streamed:    true,
		})
		return
	}
	r.meter(identity, resolved, *usage, requestedAt, true)
}

// writeChunk sends one SSE data frame and flushes it. A write failure means
// the client is gone; the stream stops and nothing further is charged.
func (r *Relay) writeChunk(c *gin.Context, chunk openai.ChatCompletionStreamResponse) bool {
	payload, errMarshal := json.Marshal(chunk)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("relay: failed to encode stream chunk")
		return true
	}
	if _, errWrite := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); errWrite != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// writeStreamError reports an upstream failure after headers are on the
// wire. The status cannot change anymore; the error rides in a final data
// event before the terminator.
func (r *Relay) writeStreamError(c *gin.Context, err error) {
	log.WithError(err).Warn("relay: upstream stream failed")
	if _, errWrite := fmt.Fprintf(c.Writer, "data: %s\n\n", apierr.SSEErrorEvent(err)); errWrite != nil {
		return
	}
	fmt.Fprint(c.Writer, streamDoneFrame)
	c.Writer.Flush()
}
