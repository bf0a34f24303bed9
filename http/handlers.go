package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"weathercast/db"
	"weathercast/ml"
	"weathercast/monitoring"
)

const rootMessage = "Weather Prediction API is running. Send POST requests to /predict"

type handlers struct {
	predictor ml.ModelProvider
	store     *db.Store
	hub       *monitoring.WebSocketHub
	metrics   *monitoring.Collector
	logger    *zap.Logger
	validate  *validator.Validate
}

func newHandlers(deps Deps) *handlers {
	v := validator.New()
	// report json names in validation messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &handlers{
		predictor: deps.Predictor,
		store:     deps.Store,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		validate:  v,
	}
}

func (h *handlers) register(mux *http.ServeMux, apiKey string) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/model", h.handleModel)
	if h.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{DisableCompression: true}))
	}

	mux.Handle("POST /api/sensors/{id}", AuthMiddleware(apiKey)(h.requireStore(h.handleUpdateSensor)))
	mux.Handle("GET /api/sensors/{id}", h.requireStore(h.handleGetSensor))
	mux.Handle("GET /api/sensors/{id}/history", h.requireStore(h.handleSensorHistory))
	mux.Handle("GET /api/sensors/{id}/prediction", h.requireStore(h.handleSensorPrediction))
	mux.Handle("GET /api/sensors/{id}/predictions", h.requireStore(h.handleSensorPredictions))
	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/sensors", h.hub.HandleWebSocket)
	}
}

func (h *handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": rootMessage})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": h.predictor.Ready(),
	})
}

// handlePredict answers with the bare label as plain text.
func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	reading, err := h.decodeReading(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	label, err := h.predict(r.Context(), reading)
	if err != nil {
		writeDetail(w, statusForKind(ml.KindOf(err)), predictionDetail(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, string(label))
}

type modelResponse struct {
	Loaded       bool             `json:"loaded"`
	Metadata     *ml.TrainingMeta `json:"metadata,omitempty"`
	TrainingRuns []db.TrainingLog `json:"training_runs,omitempty"`
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	resp := modelResponse{Loaded: h.predictor.Ready()}
	if meta, ok := h.predictor.Metadata(); ok {
		resp.Metadata = &meta
	}
	if h.store != nil {
		runs, err := h.store.LoadTrainingLog(r.Context())
		if err != nil {
			h.logger.Error("load training log", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.TrainingRuns = runs
	}
	writeJSON(w, http.StatusOK, resp)
}

// readingRequest uses pointers so an absent field is told apart from zero.
type readingRequest struct {
	Temperature *float64 `json:"temperature" validate:"required"`
	Humidity    *float64 `json:"humidity" validate:"required"`
	Pressure    *float64 `json:"pressure" validate:"required"`
}

func (h *handlers) decodeReading(r *http.Request) (ml.Reading, error) {
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ml.Reading{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return ml.Reading{}, fmt.Errorf("field %q is required", verrs[0].Field())
		}
		return ml.Reading{}, err
	}
	return ml.Reading{
		Temperature: *req.Temperature,
		Humidity:    *req.Humidity,
		Pressure:    *req.Pressure,
	}, nil
}

// predict runs the model and records the outcome.
func (h *handlers) predict(ctx context.Context, reading ml.Reading) (ml.Label, error) {
	var timer *monitoring.Timer
	if h.metrics != nil {
		timer = h.metrics.NewTimer(h.metrics.PredictionDuration)
	}
	label, err := h.predictor.Predict(ctx, reading)
	if timer != nil {
		timer.ObserveDuration()
	}

	if err != nil {
		kind := ml.KindOf(err)
		if h.metrics != nil {
			h.metrics.RecordPredictionError(string(kind))
		}
		if kind != ml.KindValidation {
			h.logger.Error("prediction failed",
				zap.Error(err),
				zap.String("kind", string(kind)),
				zap.String("request_id", GetRequestID(ctx)),
			)
		}
		return "", err
	}
	if h.metrics != nil {
		h.metrics.RecordPrediction(string(label))
	}
	return label, nil
}
