package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/identify"
	"github.com/your-org/verid/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, name string, metadata json.RawMessage) (*models.Person, error) {
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	p := &models.Person{
		ID:       uuid.New(),
		Name:     name,
		Metadata: metadata,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, name, metadata) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Metadata,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, metadata, created_at, updated_at FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, metadata, created_at, updated_at FROM persons ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, nil
}

func (s *PostgresStore) DeletePerson(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person not found")
	}
	return nil
}

func (s *PostgresStore) CountFaces(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_embeddings WHERE person_id = $1`, personID,
	).Scan(&count)
	return count, err
}

// --- Face Embeddings ---

func (s *PostgresStore) AddFaceEmbedding(ctx context.Context, personID uuid.UUID, embedding []float32, quality float32, sourceKey string) (*models.FaceEmbedding, error) {
	fe := &models.FaceEmbedding{
		ID:        uuid.New(),
		PersonID:  personID,
		Embedding: embedding,
		Quality:   quality,
		SourceKey: sourceKey,
	}
	vec := pgvector.NewVector(embedding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_embeddings (id, person_id, embedding, quality, source_key) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		fe.ID, fe.PersonID, vec, fe.Quality, fe.SourceKey,
	).Scan(&fe.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add face embedding: %w", err)
	}
	return fe, nil
}

func (s *PostgresStore) DeleteFaceEmbedding(ctx context.Context, personID, faceID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM face_embeddings WHERE id = $1 AND person_id = $2`, faceID, personID)
	if err != nil {
		return fmt.Errorf("delete face embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("face embedding not found")
	}
	return nil
}

func (s *PostgresStore) ListFaceEmbeddings(ctx context.Context, personID uuid.UUID) ([]models.FaceEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, quality, source_key, created_at FROM face_embeddings WHERE person_id = $1 ORDER BY created_at DESC`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("list face embeddings: %w", err)
	}
	defer rows.Close()

	var faces []models.FaceEmbedding
	for rows.Next() {
		var fe models.FaceEmbedding
		if err := rows.Scan(&fe.ID, &fe.PersonID, &fe.Quality, &fe.SourceKey, &fe.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face embedding: %w", err)
		}
		faces = append(faces, fe)
	}
	return faces, nil
}

// LoadEnrollment returns every enrolled embedding with its identity,
// for building the in-process matcher snapshot.
func (s *PostgresStore) LoadEnrollment(ctx context.Context) ([]identify.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fe.id, fe.person_id, p.name, fe.embedding
		 FROM face_embeddings fe
		 JOIN persons p ON p.id = fe.person_id`)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	defer rows.Close()

	var entries []identify.Entry
	for rows.Next() {
		var e identify.Entry
		var vec pgvector.Vector
		if err := rows.Scan(&e.EmbeddingID, &e.PersonID, &e.Name, &vec); err != nil {
			return nil, fmt.Errorf("scan enrollment entry: %w", err)
		}
		e.Vector = vec.Slice()
		entries = append(entries, e)
	}
	return entries, nil
}

// SearchFaces finds the closest enrolled persons for an embedding by
// Euclidean distance, for the API similarity-search endpoint.
func (s *PostgresStore) SearchFaces(ctx context.Context, embedding []float32, maxDistance float64, limit int) ([]SearchMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT fe.person_id, p.name, fe.embedding <-> $1 AS distance
		 FROM face_embeddings fe
		 JOIN persons p ON p.id = fe.person_id
		 WHERE fe.embedding <-> $1 <= $2
		 ORDER BY fe.embedding <-> $1
		 LIMIT $3`,
		vec, maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		var m SearchMatch
		if err := rows.Scan(&m.PersonID, &m.Name, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type SearchMatch struct {
	PersonID uuid.UUID `json:"person_id"`
	Name     string    `json:"name"`
	Distance float32   `json:"distance"`
}

// --- Attendance ---

// RecordIfAbsent inserts an attendance record unless one already exists
// for (person, date), in which case the existing record is returned
// unchanged. The second return reports whether this call created it.
func (s *PostgresStore) RecordIfAbsent(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (id, person_id, name, date, first_seen, last_seen, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (person_id, date) DO NOTHING`,
		rec.ID, rec.PersonID, rec.Name, rec.Date, rec.FirstSeen, rec.LastSeen, rec.Status)
	if err != nil {
		return models.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	created := tag.RowsAffected() > 0

	stored := models.AttendanceRecord{}
	err = s.pool.QueryRow(ctx,
		`SELECT id, person_id, name, date, first_seen, last_seen, status
		 FROM attendance WHERE person_id = $1 AND date = $2`,
		rec.PersonID, rec.Date,
	).Scan(&stored.ID, &stored.PersonID, &stored.Name, &stored.Date,
		&stored.FirstSeen, &stored.LastSeen, &stored.Status)
	if err != nil {
		return models.AttendanceRecord{}, false, fmt.Errorf("read attendance: %w", err)
	}
	return stored, created, nil
}

func (s *PostgresStore) UpdateLastSeen(ctx context.Context, personID uuid.UUID, date string, seen time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE attendance SET last_seen = GREATEST(last_seen, $1) WHERE person_id = $2 AND date = $3`,
		seen, personID, date)
	return err
}

// AttendanceByDate returns all records for one day.
func (s *PostgresStore) AttendanceByDate(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, name, date, first_seen, last_seen, status
		 FROM attendance WHERE date = $1 ORDER BY first_seen`,
		date)
	if err != nil {
		return nil, fmt.Errorf("attendance by date: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.PersonID, &r.Name, &r.Date,
			&r.FirstSeen, &r.LastSeen, &r.Status); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// AttendanceSummary counts records per status for one day.
func (s *PostgresStore) AttendanceSummary(ctx context.Context, date string) (map[models.AttendanceStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM attendance WHERE date = $1 GROUP BY status`, date)
	if err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[models.AttendanceStatus]int)
	for rows.Next() {
		var status models.AttendanceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary[status] = count
	}
	return summary, nil
}

// --- Streams ---

func (s *PostgresStore) CreateStream(ctx context.Context, st *models.Stream) error {
	st.ID = uuid.New()
	st.Status = models.StreamStatusStopped
	if st.Config == nil {
		st.Config = json.RawMessage("{}")
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO streams (id, url, stream_type, fps, status, config)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		st.ID, st.URL, st.StreamType, st.FPS, st.Status, st.Config,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
}

func (s *PostgresStore) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st := &models.Stream{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, stream_type, fps, status, config, error_message, created_at, updated_at
		 FROM streams WHERE id = $1`, id,
	).Scan(&st.ID, &st.URL, &st.StreamType, &st.FPS, &st.Status,
		&st.Config, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, stream_type, fps, status, config, error_message, created_at, updated_at
		 FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var st models.Stream
		if err := rows.Scan(&st.ID, &st.URL, &st.StreamType, &st.FPS, &st.Status,
			&st.Config, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, nil
}

func (s *PostgresStore) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, error_message = $2 WHERE id = $3`,
		status, errMsg, id)
	return err
}

func (s *PostgresStore) DeleteStream(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream not found")
	}
	return nil
}

// --- Events ---

// CreateEvent persists one pipeline event for the audit log.
func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.PipelineEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, type, stream_id, track_id, timestamp, person_id, person_name, distance, reason, quality, emotion, emotion_confidence, status, snapshot_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ev.ID, ev.Type, ev.StreamID, ev.TrackID, ev.Timestamp,
		ev.PersonID, ev.PersonName, ev.Distance, ev.Reason, ev.Quality,
		ev.Emotion, ev.EmotionConf, ev.Status, ev.SnapshotKey, ev.CreatedAt)
	return err
}

// QueryEvents returns a page of events with optional filters, newest
// first, plus the unpaged total.
func (s *PostgresStore) QueryEvents(ctx context.Context, streamID *uuid.UUID, eventType *models.EventType, from, to *time.Time, personID *uuid.UUID, limit, offset int) ([]models.PipelineEvent, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if streamID != nil {
		baseWhere += fmt.Sprintf(" AND stream_id = $%d", argIdx)
		args = append(args, *streamID)
		argIdx++
	}
	if eventType != nil {
		baseWhere += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, *eventType)
		argIdx++
	}
	if from != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}
	if personID != nil {
		baseWhere += fmt.Sprintf(" AND person_id = $%d", argIdx)
		args = append(args, *personID)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM events " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, type, stream_id, track_id, timestamp, person_id, person_name, distance, reason, quality, emotion, emotion_confidence, status, snapshot_key, created_at
		 FROM events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.PipelineEvent
	for rows.Next() {
		var ev models.PipelineEvent
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.StreamID, &ev.TrackID, &ev.Timestamp,
			&ev.PersonID, &ev.PersonName, &ev.Distance, &ev.Reason, &ev.Quality,
			&ev.Emotion, &ev.EmotionConf, &ev.Status, &ev.SnapshotKey, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, nil
}

// GetEvent returns a single event by ID, nil when absent.
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.PipelineEvent, error) {
	var ev models.PipelineEvent
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, stream_id, track_id, timestamp, person_id, person_name, distance, reason, quality, emotion, emotion_confidence, status, snapshot_key, created_at
		 FROM events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Type, &ev.StreamID, &ev.TrackID, &ev.Timestamp,
			&ev.PersonID, &ev.PersonName, &ev.Distance, &ev.Reason, &ev.Quality,
			&ev.Emotion, &ev.EmotionConf, &ev.Status, &ev.SnapshotKey, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}
