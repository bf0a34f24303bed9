package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"weathercast/ml"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const schema = `
    CREATE TABLE IF NOT EXISTS sensor_readings (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        sensor_id TEXT NOT NULL,
        temperature REAL NOT NULL,
        humidity REAL NOT NULL,
        pressure REAL NOT NULL,
        recorded_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor
        ON sensor_readings (sensor_id, recorded_at DESC);
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        sensor_id TEXT NOT NULL,
        temperature REAL NOT NULL,
        humidity REAL NOT NULL,
        pressure REAL NOT NULL,
        label TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50) NOT NULL,
        train_accuracy REAL,
        test_accuracy REAL,
        precision REAL,
        recall REAL,
        trained_at DATETIME NOT NULL,
        data_points INTEGER,
        artifact_path TEXT
    );
    `

// Store persists sensor readings, served predictions and training runs in
// SQLite.
type Store struct {
	db *sqlx.DB
}

// Open creates the database file if needed and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SensorReading is a stored reading of one sensor.
type SensorReading struct {
	ID       int64  `json:"-" db:"id"`
	SensorID string `json:"sensor_id" db:"sensor_id"`
	ml.Reading
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// SaveReading appends a reading for sensorID.
func (s *Store) SaveReading(ctx context.Context, sensorID string, reading ml.Reading, at time.Time) (*SensorReading, error) {
	if sensorID == "" {
		return nil, errors.New("sensor id required")
	}
	rec := &SensorReading{SensorID: sensorID, Reading: reading, RecordedAt: at.UTC()}
	res, err := s.db.NamedExecContext(ctx, `
        INSERT INTO sensor_readings (sensor_id, temperature, humidity, pressure, recorded_at)
        VALUES (:sensor_id, :temperature, :humidity, :pressure, :recorded_at)`, rec)
	if err != nil {
		return nil, err
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return rec, nil
}

// LatestReading returns the most recent reading of sensorID.
func (s *Store) LatestReading(ctx context.Context, sensorID string) (*SensorReading, error) {
	var rec SensorReading
	err := s.db.GetContext(ctx, &rec, `
        SELECT id, sensor_id, temperature, humidity, pressure, recorded_at
        FROM sensor_readings
        WHERE sensor_id = ?
        ORDER BY recorded_at DESC, id DESC
        LIMIT 1`, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// QueryReadings returns up to limit readings of sensorID, newest first.
func (s *Store) QueryReadings(ctx context.Context, sensorID string, limit int) ([]SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	readings := make([]SensorReading, 0)
	err := s.db.SelectContext(ctx, &readings, `
        SELECT id, sensor_id, temperature, humidity, pressure, recorded_at
        FROM sensor_readings
        WHERE sensor_id = ?
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?`, sensorID, limit)
	return readings, err
}

// PredictionRecord is a served prediction.
type PredictionRecord struct {
	ID       int64  `json:"-" db:"id"`
	SensorID string `json:"sensor_id" db:"sensor_id"`
	ml.Reading
	Label     ml.Label  `json:"prediction" db:"label"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, rec PredictionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO predictions (sensor_id, temperature, humidity, pressure, label, created_at)
        VALUES (:sensor_id, :temperature, :humidity, :pressure, :label, :created_at)`, rec)
	return err
}

// QueryPredictions returns up to limit predictions for sensorID, newest first.
func (s *Store) QueryPredictions(ctx context.Context, sensorID string, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	records := make([]PredictionRecord, 0)
	err := s.db.SelectContext(ctx, &records, `
        SELECT id, sensor_id, temperature, humidity, pressure, label, created_at
        FROM predictions
        WHERE sensor_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, sensorID, limit)
	return records, err
}

type TrainingLog struct {
	ModelName     string    `json:"model_name" db:"model_name"`
	TrainAccuracy float64   `json:"train_accuracy" db:"train_accuracy"`
	TestAccuracy  float64   `json:"test_accuracy" db:"test_accuracy"`
	Precision     float64   `json:"precision" db:"precision"`
	Recall        float64   `json:"recall" db:"recall"`
	TrainedAt     time.Time `json:"trained_at" db:"trained_at"`
	DataPoints    int       `json:"data_points" db:"data_points"`
	ArtifactPath  string    `json:"artifact_path" db:"artifact_path"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	entry.TrainedAt = entry.TrainedAt.UTC()
	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO training_log (
            model_name, train_accuracy, test_accuracy, precision, recall,
            trained_at, data_points, artifact_path
        ) VALUES (
            :model_name, :train_accuracy, :test_accuracy, :precision, :recall,
            :trained_at, :data_points, :artifact_path
        )`, entry)
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	logs := make([]TrainingLog, 0)
	err := s.db.SelectContext(ctx, &logs, `
        SELECT model_name, train_accuracy, test_accuracy, precision, recall,
               trained_at, data_points, artifact_path
        FROM training_log
        ORDER BY trained_at DESC, id DESC`)
	return logs, err
}
