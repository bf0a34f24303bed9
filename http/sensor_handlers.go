package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"weathercast/db"
	"weathercast/ml"
	"weathercast/monitoring"
)

type sensorPrediction struct {
	SensorID   string            `json:"sensor_id"`
	Prediction ml.Label          `json:"prediction"`
	Reading    *db.SensorReading `json:"reading"`
}

func (h *handlers) requireStore(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.store == nil {
			writeDetail(w, http.StatusServiceUnavailable, "sensor storage is disabled")
			return
		}
		next(w, r)
	})
}

// handleUpdateSensor stores a reading as received. Ranges are only enforced
// when a prediction is requested.
func (h *handlers) handleUpdateSensor(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	reading, err := h.decodeReading(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.store.SaveReading(r.Context(), sensorID, reading, time.Now())
	if err != nil {
		h.logger.Error("save sensor reading", zap.Error(err), zap.String("sensor_id", sensorID))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.SensorUpdatesTotal.Inc()
	}
	h.publish(monitoring.SensorReading, sensorID, rec)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	rec, ok := h.latestReading(w, r, sensorID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	readings, err := h.store.QueryReadings(r.Context(), sensorID, queryLimit(r))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id": sensorID,
		"data":      readings,
	})
}

// handleSensorPrediction predicts from the sensor's latest reading and logs
// the result.
func (h *handlers) handleSensorPrediction(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	rec, ok := h.latestReading(w, r, sensorID)
	if !ok {
		return
	}

	label, err := h.predict(r.Context(), rec.Reading)
	if err != nil {
		writeDetail(w, statusForKind(ml.KindOf(err)), predictionDetail(err))
		return
	}

	if err := h.store.SavePrediction(r.Context(), db.PredictionRecord{
		SensorID: sensorID,
		Reading:  rec.Reading,
		Label:    label,
	}); err != nil {
		h.logger.Warn("save prediction", zap.Error(err), zap.String("sensor_id", sensorID))
	}

	resp := sensorPrediction{SensorID: sensorID, Prediction: label, Reading: rec}
	h.publish(monitoring.Prediction, sensorID, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleSensorPredictions(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("id")
	records, err := h.store.QueryPredictions(r.Context(), sensorID, queryLimit(r))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id": sensorID,
		"data":      records,
	})
}

func (h *handlers) latestReading(w http.ResponseWriter, r *http.Request, sensorID string) (*db.SensorReading, bool) {
	rec, err := h.store.LatestReading(r.Context(), sensorID)
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("no readings for sensor %s", sensorID))
		return nil, false
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return rec, true
}

func (h *handlers) publish(msgType monitoring.MessageType, sensorID string, data any) {
	if h.hub == nil {
		return
	}
	if err := h.hub.Publish(msgType, sensorID, data); err != nil {
		h.logger.Warn("publish sensor update", zap.Error(err), zap.String("sensor_id", sensorID))
	}
}

func queryLimit(r *http.Request) int {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	return limit
}
