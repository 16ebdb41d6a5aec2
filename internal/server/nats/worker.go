// Package nats serves synthesis as NATS request/reply.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ekisa-team/ttsd/internal/service"
)

// Reply headers.
const (
	HeaderStatus         = "Status"
	HeaderRequestID      = "X-Request-Id"
	HeaderSampleRate     = "X-Sample-Rate"
	HeaderDevice         = "X-Device"
	HeaderProcessingTime = "X-Processing-Time"
)

// ErrPayloadTooLarge is returned when the WAV file exceeds the server's max payload.
var ErrPayloadTooLarge = errors.New("audio exceeds the NATS max payload")

// Job is the request payload.
type Job struct {
	Text        string   `json:"text"`
	VoicePreset string   `json:"voice_preset,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
}

type errorReply struct {
	Detail string `json:"detail"`
}

// Connect dials the NATS server and keeps reconnecting for the life of the process.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("ttsd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}

// Worker answers synthesis requests on a subject within a queue group.
type Worker struct {
	nc      *nats.Conn
	subject string
	queue   string
	tts     *service.TTS
	sub     *nats.Subscription
}

// NewWorker creates a worker. Call Start to subscribe.
func NewWorker(nc *nats.Conn, subject, queue string, tts *service.TTS) *Worker {
	return &Worker{
		nc:      nc,
		subject: subject,
		queue:   queue,
		tts:     tts,
	}
}

// Start subscribes to the subject.
func (w *Worker) Start() error {
	sub, err := w.nc.QueueSubscribe(w.subject, w.queue, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.sub = sub
	slog.Info("NATS worker subscribed", "subject", w.subject, "queue", w.queue)

	return nil
}

// Stop drains the subscription so in-flight requests are answered.
func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	if err := w.sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}

func (w *Worker) handleMessage(msg *nats.Msg) {
	id := msg.Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	ctx := service.WithRequestID(context.Background(), id)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while handling job", "request_id", id, "panic", r, "stack", string(debug.Stack()))
			w.respondError(msg, id, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.respondError(msg, id, http.StatusUnprocessableEntity, fmt.Sprintf("invalid job payload: %v", err))
		return
	}

	req := service.Request{Text: job.Text, VoicePreset: job.VoicePreset, Speed: 1}
	if job.Speed != nil {
		req.Speed = *job.Speed
	}

	res, err := w.tts.Synthesize(ctx, req)
	if err != nil {
		status, detail := statusOf(err)
		w.respondError(msg, id, status, detail)
		return
	}

	if limit := w.nc.MaxPayload(); limit > 0 && int64(len(res.WAV)) > limit {
		slog.Error("Synthesis reply too large", "request_id", id, "bytes", len(res.WAV), "max_payload", limit)
		w.respondError(msg, id, http.StatusInternalServerError, ErrPayloadTooLarge.Error())
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Data = res.WAV
	reply.Header.Set(HeaderStatus, strconv.Itoa(http.StatusOK))
	reply.Header.Set(HeaderRequestID, id)
	reply.Header.Set(HeaderSampleRate, strconv.Itoa(res.SampleRate))
	reply.Header.Set(HeaderDevice, string(res.Device))
	reply.Header.Set(HeaderProcessingTime, fmt.Sprintf("%.2f", res.Elapsed.Seconds()))

	if err := msg.RespondMsg(reply); err != nil {
		slog.Error("Failed to publish reply", "request_id", id, "error", err)
	}
}

func (w *Worker) respondError(msg *nats.Msg, id string, status int, detail string) {
	data, err := json.Marshal(errorReply{Detail: detail})
	if err != nil {
		slog.Error("Failed to marshal error reply", "request_id", id, "error", err)
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Data = data
	reply.Header.Set(HeaderStatus, strconv.Itoa(status))
	reply.Header.Set(HeaderRequestID, id)

	if err := msg.RespondMsg(reply); err != nil {
		slog.Error("Failed to publish error reply", "request_id", id, "error", err)
	}
}

// statusOf uses the same status codes as the HTTP surface.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotReady):
		return http.StatusServiceUnavailable, "Model not loaded"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
