package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/ttsd/internal/model"
	"github.com/ekisa-team/ttsd/internal/service"
)

const (
	maxBodyBytes    = 4 << 20
	maxFormMemory   = 1 << 20
	defaultSpeed    = 1.0
	contentTypeWAV  = "audio/wav"
	contentTypeJSON = "application/json"
	statusRunning   = "running"
	healthStatusOK  = "ok"
)

var features = []string{"text-to-speech", "voice-presets", "speed-control"}

type (
	RootResponseDTO struct {
		Service  string   `json:"service"`
		Version  string   `json:"version"`
		Model    string   `json:"model"`
		Status   string   `json:"status"`
		Features []string `json:"features"`
	}

	HealthResponseDTO struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
		ModelStatus string `json:"model_status"`
		ModelError  string `json:"model_error,omitempty"`
		Device      string `json:"device"`
		SampleRate  int    `json:"sample_rate"`
	}

	VoicesResponseDTO struct {
		Voices []string `json:"voices"`
	}

	SynthesizeRequestDTO struct {
		Text        string   `json:"text"`
		VoicePreset string   `json:"voice_preset,omitempty"`
		Speed       *float64 `json:"speed,omitempty"`
	}
)

type (
	RootOutput struct {
		Body RootResponseDTO
	}

	HealthOutput struct {
		Body HealthResponseDTO
	}

	VoicesOutput struct {
		Body VoicesResponseDTO
	}

	SynthesizeInput struct {
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}

	SynthesizeOutput struct {
		ContentType    string `header:"Content-Type"`
		ProcessingTime string `header:"X-Processing-Time"`
		SampleRate     string `header:"X-Sample-Rate"`
		Device         string `header:"X-Device"`
		Body           []byte
	}
)

// TTSHandler handles HTTP requests for TTS.
type TTSHandler struct {
	service *service.TTS
	info    Info
}

// NewTTSHandler creates a new TTSHandler instance and registers its operations.
func NewTTSHandler(api huma.API, service *service.TTS, info Info) *TTSHandler {
	h := &TTSHandler{service: service, info: info}

	huma.Register(api, huma.Operation{
		OperationID: "root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service information",
		Tags:        []string{"meta"},
	}, h.handleRoot)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness and model readiness",
		Tags:        []string{"meta"},
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID: "list-voices",
		Method:      http.MethodGet,
		Path:        "/voices",
		Summary:     "List voice presets of the loaded model",
		Tags:        []string{"tts"},
	}, h.handleVoices)

	huma.Register(api, huma.Operation{
		OperationID:   "synthesize",
		Method:        http.MethodPost,
		Path:          "/synthesize",
		Summary:       "Synthesize speech from text",
		Description:   "Accepts form fields text, voice_preset and speed (form-urlencoded, multipart or JSON) and returns a WAV file.",
		Tags:          []string{"tts"},
		MaxBodyBytes:  maxBodyBytes,
		DefaultStatus: http.StatusOK,
	}, h.handleSynthesize)

	return h
}

func (h *TTSHandler) handleRoot(_ context.Context, _ *struct{}) (*RootOutput, error) {
	return &RootOutput{
		Body: RootResponseDTO{
			Service:  h.info.Service,
			Version:  h.info.Version,
			Model:    h.info.ModelID,
			Status:   statusRunning,
			Features: features,
		},
	}, nil
}

func (h *TTSHandler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	body := HealthResponseDTO{
		Status:     healthStatusOK,
		SampleRate: h.info.DefaultSampleRate,
	}

	body.ModelStatus = string(model.StatusUnloaded)
	if m := h.service.Handle(); m != nil {
		body.ModelLoaded = true
		body.ModelStatus = string(model.StatusReady)
		body.Device = string(m.Device)
		body.SampleRate = m.SampleRate
	}

	if h.info.ModelStatus != nil {
		status, err := h.info.ModelStatus()
		// The handle is attached after the loader finishes, so a missing handle wins.
		if !body.ModelLoaded && status == model.StatusReady {
			status = model.StatusLoading
		}
		body.ModelStatus = string(status)
		if err != nil {
			body.ModelError = err.Error()
		}
	}

	return &HealthOutput{Body: body}, nil
}

func (h *TTSHandler) handleVoices(_ context.Context, _ *struct{}) (*VoicesOutput, error) {
	voices, err := h.service.Voices()
	if err != nil {
		return nil, serviceError(err)
	}
	if voices == nil {
		voices = []string{}
	}

	return &VoicesOutput{Body: VoicesResponseDTO{Voices: voices}}, nil
}

func (h *TTSHandler) handleSynthesize(ctx context.Context, input *SynthesizeInput) (*SynthesizeOutput, error) {
	req, err := decodeSynthesizeRequest(ctx, input.ContentType, input.RawBody)
	if err != nil {
		return nil, &ErrorBody{status: http.StatusUnprocessableEntity, Detail: err.Error()}
	}

	res, err := h.service.Synthesize(ctx, req)
	if err != nil {
		return nil, serviceError(err)
	}

	return &SynthesizeOutput{
		ContentType:    contentTypeWAV,
		ProcessingTime: fmt.Sprintf("%.2f", res.Elapsed.Seconds()),
		SampleRate:     strconv.Itoa(res.SampleRate),
		Device:         string(res.Device),
		Body:           res.WAV,
	}, nil
}

// decodeSynthesizeRequest reads text, voice_preset and speed from a form or JSON body.
func decodeSynthesizeRequest(ctx context.Context, contentType string, body []byte) (service.Request, error) {
	req := service.Request{Speed: defaultSpeed}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == contentTypeJSON {
		var dto SynthesizeRequestDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}

		req.Text, req.VoicePreset = dto.Text, dto.VoicePreset
		if dto.Speed != nil {
			req.Speed = *dto.Speed
		}
		return req, nil
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return req, err
	}
	r.Header.Set("Content-Type", contentType)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, fmt.Errorf("invalid form body: %w", err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req.Text = r.PostForm.Get("text")
	req.VoicePreset = strings.TrimSpace(r.PostForm.Get("voice_preset"))

	if raw := strings.TrimSpace(r.PostForm.Get("speed")); raw != "" {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("speed must be a number, got %q", raw)
		}
		req.Speed = speed
	}

	return req, nil
}
