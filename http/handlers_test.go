package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"weathercast/config"
	"weathercast/db"
	"weathercast/ml"
	"weathercast/monitoring"
)

var testArtifact *ml.Artifact

func TestMain(m *testing.M) {
	cfg := ml.DefaultTrainerConfig()
	cfg.Samples = 2000
	cfg.Forest.Trees = 20
	result, err := ml.NewTrainer(cfg, zap.NewNop()).Train(context.Background())
	if err != nil {
		panic(err)
	}
	testArtifact = result.Artifact

	os.Exit(m.Run())
}

type testEnv struct {
	handler http.Handler
	store   *db.Store
	metrics *monitoring.Collector
	hub     *monitoring.WebSocketHub
}

type envOption func(*config.ServerConfig, *Deps)

func withAPIKey(key string) envOption {
	return func(cfg *config.ServerConfig, _ *Deps) { cfg.APIKey = key }
}

func withoutStore() envOption {
	return func(_ *config.ServerConfig, deps *Deps) { deps.Store = nil }
}

func withPredictor(p ml.ModelProvider) envOption {
	return func(_ *config.ServerConfig, deps *Deps) { deps.Predictor = p }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	predictor, err := ml.NewPredictor(testArtifact, ml.PredictorOptions{CacheSize: 16})
	require.NoError(t, err)

	store, err := db.Open(filepath.Join(t.TempDir(), "weather.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := monitoring.NewCollector("weather")
	hub := monitoring.NewWebSocketHub(zap.NewNop(), metrics)
	go hub.Start()
	t.Cleanup(hub.Stop)

	cfg := config.Default().Server
	deps := Deps{
		Predictor: predictor,
		Store:     store,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	handler, err := NewHandler(cfg, deps)
	require.NoError(t, err)
	return &testEnv{handler: handler, store: deps.Store, metrics: metrics, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func detailOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Detail
}

func TestRootHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message": "Weather Prediction API is running. Send POST requests to /predict"}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","model_loaded":true}`, rr.Body.String())
}

func TestPredictReturnsPlainLabel(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/predict", `{"temperature": 20, "humidity": 90, "pressure": 1004}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "rainy", rr.Body.String())

	rr = env.do(t, http.MethodPost, "/predict", `{"temperature": 36, "humidity": 40, "pressure": 1016}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sunny", rr.Body.String())

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PredictionsTotal.WithLabelValues("rainy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.APIRequestsTotal.WithLabelValues("POST /predict", "POST", "200")))
}

func TestPredictAcceptsZeroValues(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/predict", `{"temperature": 0, "humidity": 0, "pressure": 1000}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, []string{"sunny", "rainy", "cloudy"}, rr.Body.String())
}

func TestPredictRejectsOutOfRange(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"humidity above", `{"temperature": 20, "humidity": 101, "pressure": 1013}`, "Humidity must be between 0 and 100%"},
		{"humidity below", `{"temperature": 20, "humidity": -0.5, "pressure": 1013}`, "Humidity must be between 0 and 100%"},
		{"temperature above", `{"temperature": 51, "humidity": 50, "pressure": 1013}`, "Temperature must be between -20°C and 50°C"},
		{"temperature below", `{"temperature": -21, "humidity": 50, "pressure": 1013}`, "Temperature must be between -20°C and 50°C"},
		{"pressure below", `{"temperature": 20, "humidity": 50, "pressure": 899}`, "Pressure must be between 900 and 1100 hPa"},
		{"pressure above", `{"temperature": 20, "humidity": 50, "pressure": 1101}`, "Pressure must be between 900 and 1100 hPa"},
		{"humidity checked first", `{"temperature": 99, "humidity": 150, "pressure": 10}`, "Humidity must be between 0 and 100%"},
		{"temperature before pressure", `{"temperature": 99, "humidity": 50, "pressure": 10}`, "Temperature must be between -20°C and 50°C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.detail, detailOf(t, rr))
		})
	}

	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(env.metrics.PredictionErrorsTotal.WithLabelValues("validation")))
}

func TestPredictRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/predict", `{"temperature": 20,`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, detailOf(t, rr), "invalid request body")

	rr = env.do(t, http.MethodPost, "/predict", `{"temperature": "warm", "humidity": 50, "pressure": 1000}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/predict", `{"temperature": 20, "pressure": 1000}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, `field "humidity" is required`, detailOf(t, rr))

	rr = env.do(t, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPredictWithoutModel(t *testing.T) {
	env := newTestEnv(t, withPredictor(ml.UnavailablePredictor(nil)))

	rr := env.do(t, http.MethodPost, "/predict", `{"temperature": 20, "humidity": 50, "pressure": 1013}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Model not found. Please train the model first.", detailOf(t, rr))

	// range checks still run first
	rr = env.do(t, http.MethodPost, "/predict", `{"temperature": 20, "humidity": 500, "pressure": 1013}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/health", "")
	assert.JSONEq(t, `{"status":"ok","model_loaded":false}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"loaded":false}`, rr.Body.String())
}

func TestModelHandler(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveTrainingLog(context.Background(), db.TrainingLog{
		ModelName:    "random_forest",
		TestAccuracy: 0.7,
		TrainedAt:    time.Now(),
		DataPoints:   2000,
	}))

	rr := env.do(t, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp modelResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Loaded)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, 2000, resp.Metadata.Samples)
	require.Len(t, resp.TrainingRuns, 1)
	assert.Equal(t, "random_forest", resp.TrainingRuns[0].ModelName)
}

func TestSensorEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/sensors/hehe", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "no readings for sensor hehe", detailOf(t, rr))

	rr = env.do(t, http.MethodPost, "/api/sensors/hehe", `{"temperature": 20, "humidity": 90, "pressure": 1004}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success": true}`, rr.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SensorUpdatesTotal))

	rr = env.do(t, http.MethodGet, "/api/sensors/hehe", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var reading db.SensorReading
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reading))
	assert.Equal(t, "hehe", reading.SensorID)
	assert.Equal(t, ml.Reading{Temperature: 20, Humidity: 90, Pressure: 1004}, reading.Reading)

	rr = env.do(t, http.MethodGet, "/api/sensors/hehe/prediction", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var pred sensorPrediction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pred))
	assert.Equal(t, "hehe", pred.SensorID)
	assert.Equal(t, ml.Rainy, pred.Prediction)
	require.NotNil(t, pred.Reading)
	assert.Equal(t, 1004.0, pred.Reading.Pressure)

	rr = env.do(t, http.MethodGet, "/api/sensors/hehe/predictions?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var logged struct {
		SensorID string                `json:"sensor_id"`
		Data     []db.PredictionRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &logged))
	require.Len(t, logged.Data, 1)
	assert.Equal(t, ml.Rainy, logged.Data[0].Label)

	rr = env.do(t, http.MethodPost, "/api/sensors/hehe", `{"temperature": 21, "humidity": 80, "pressure": 1005}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/sensors/hehe/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var history struct {
		Data []db.SensorReading `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	assert.Len(t, history.Data, 2)
}

func TestSensorPredictionRejectsStoredOutOfRange(t *testing.T) {
	env := newTestEnv(t)

	// readings are stored as received
	rr := env.do(t, http.MethodPost, "/api/sensors/broken", `{"temperature": 80, "humidity": 50, "pressure": 1000}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/sensors/broken/prediction", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Temperature must be between -20°C and 50°C", detailOf(t, rr))
}

func TestSensorWriteRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, withAPIKey("secret"))
	body := `{"temperature": 20, "humidity": 60, "pressure": 1010}`

	rr := env.do(t, http.MethodPost, "/api/sensors/hehe", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/sensors/hehe", body, "Authorization", "Basic secret")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/sensors/hehe", body, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/sensors/hehe", body, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rr.Code)

	// reads stay open
	rr = env.do(t, http.MethodGet, "/api/sensors/hehe", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSensorStorageDisabled(t *testing.T) {
	env := newTestEnv(t, withoutStore())

	rr := env.do(t, http.MethodGet, "/api/sensors/hehe", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "sensor storage is disabled", detailOf(t, rr))

	rr = env.do(t, http.MethodGet, "/api/model", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/predict", `{"temperature": 20, "humidity": 90, "pressure": 1004}`)
	rr := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `weather_predictions_total{label="rainy"} 1`)
	assert.Contains(t, rr.Body.String(), "weather_api_requests_total")

	rr = env.do(t, http.MethodGet, "/metrics", "", "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/health", "", "Origin", "https://example.com")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "https://example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = env.do(t, http.MethodGet, "/api/health", "", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	rr = env.do(t, http.MethodOptions, "/predict", "", "Origin", "https://example.com")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestCORSRestrictedOrigins(t *testing.T) {
	handler := CORSMiddleware([]string{"https://allowed.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://other.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://allowed.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "https://allowed.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Chain(RecoveryMiddleware(zap.NewNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", detailOf(t, rr))
}

func TestNewHandlerRequiresPredictor(t *testing.T) {
	_, err := NewHandler(config.Default().Server, Deps{})
	assert.Error(t, err)
}

func TestSensorFeedWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sensors"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/sensors/hehe", "application/json",
		strings.NewReader(`{"temperature": 22, "humidity": 55, "pressure": 1012}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg monitoring.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, monitoring.SensorReading, msg.Type)
	assert.Equal(t, "hehe", msg.SensorID)

	var reading db.SensorReading
	require.NoError(t, json.Unmarshal(msg.Data, &reading))
	assert.Equal(t, 22.0, reading.Temperature)
}
