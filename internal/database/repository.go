// Package database provides PostgreSQL database operations for annotations
// and user accounts.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/config"
	"github.com/map-annotator/backend/internal/models"
)

// Repository defines the interface for annotation and user data operations.
type Repository interface {
	// Create creates a new annotation and returns it with its assigned ID.
	Create(ctx context.Context, req *models.CreateAnnotationRequest) (*models.Annotation, error)

	// GetByID retrieves an annotation by its ID. It returns (nil, nil) when
	// no annotation has that ID.
	GetByID(ctx context.Context, id string) (*models.Annotation, error)

	// GetAll retrieves all annotations, including expired ones. Expiry
	// filtering is the client's concern at load time.
	GetAll(ctx context.Context) ([]models.Annotation, error)

	// Update updates an existing annotation. It returns (nil, nil) when no
	// annotation has that ID.
	Update(ctx context.Context, id string, req *models.UpdateAnnotationRequest) (*models.Annotation, error)

	// Delete removes an annotation by its ID. It returns models.ErrNotFound
	// when no annotation has that ID.
	Delete(ctx context.Context, id string) error

	// CreateUser stores a new account with an already-hashed password.
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)

	// GetUserByEmail retrieves an account by email. It returns (nil, nil)
	// when no account has that email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Close closes the database connection.
	Close()
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(cfg *config.Config, logger *zap.Logger) (Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{
		pool:   pool,
		logger: logger,
	}

	if err := repo.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Connected to PostgreSQL database")
	return repo, nil
}

// migrate creates the necessary database tables if they don't exist.
func (r *PostgresRepository) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS annotations (
			id UUID PRIMARY KEY,
			title VARCHAR(256) NOT NULL,
			description VARCHAR(1024) DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			image_name VARCHAR(32) NOT NULL,
			start_date TIMESTAMP WITH TIME ZONE,
			end_date TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_annotations_created_at ON annotations(created_at);
		CREATE INDEX IF NOT EXISTS idx_annotations_end_date ON annotations(end_date);

		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(256) NOT NULL UNIQUE,
			password_hash VARCHAR(128) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);
	`

	_, err := r.pool.Exec(ctx, query)
	return err
}

// Create creates a new annotation.
func (r *PostgresRepository) Create(ctx context.Context, req *models.CreateAnnotationRequest) (*models.Annotation, error) {
	annotation := &models.Annotation{
		ID:           uuid.New().String(),
		Title:        req.Title,
		Description:  models.NormalizeDescription(req.Description),
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		IconCategory: req.IconCategory,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO annotations (id, title, description, latitude, longitude, image_name, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		annotation.ID,
		annotation.Title,
		annotation.Description,
		annotation.Latitude,
		annotation.Longitude,
		string(annotation.IconCategory),
		annotation.StartDate,
		annotation.EndDate,
		annotation.CreatedAt,
		annotation.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create annotation", zap.Error(err))
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}

	r.logger.Info("Created annotation", zap.String("id", annotation.ID))
	return annotation, nil
}

// GetByID retrieves an annotation by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Annotation, error) {
	query := `
		SELECT id, title, description, latitude, longitude, image_name, start_date, end_date, created_at, updated_at
		FROM annotations
		WHERE id = $1
	`

	annotation, err := scanAnnotation(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get annotation", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}

	return annotation, nil
}

// GetAll retrieves all annotations.
func (r *PostgresRepository) GetAll(ctx context.Context) ([]models.Annotation, error) {
	query := `
		SELECT id, title, description, latitude, longitude, image_name, start_date, end_date, created_at, updated_at
		FROM annotations
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to get annotations", zap.Error(err))
		return nil, fmt.Errorf("failed to get annotations: %w", err)
	}
	defer rows.Close()

	var annotations []models.Annotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			r.logger.Error("Failed to scan annotation row", zap.Error(err))
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, *annotation)
	}

	if annotations == nil {
		annotations = []models.Annotation{}
	}

	return annotations, nil
}

// Update updates an existing annotation. The coordinate is immutable and is
// never touched by an update.
func (r *PostgresRepository) Update(ctx context.Context, id string, req *models.UpdateAnnotationRequest) (*models.Annotation, error) {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	if req.Title != nil {
		existing.Title = *req.Title
	}
	if req.Description != nil {
		existing.Description = models.NormalizeDescription(*req.Description)
	}
	if req.IconCategory != nil {
		existing.IconCategory = *req.IconCategory
	}
	if req.StartDate != nil {
		existing.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		existing.EndDate = req.EndDate
	}
	existing.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE annotations
		SET title = $2, description = $3, image_name = $4, start_date = $5, end_date = $6, updated_at = $7
		WHERE id = $1
	`

	_, err = r.pool.Exec(ctx, query,
		existing.ID,
		existing.Title,
		existing.Description,
		string(existing.IconCategory),
		existing.StartDate,
		existing.EndDate,
		existing.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to update annotation", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to update annotation: %w", err)
	}

	r.logger.Info("Updated annotation", zap.String("id", id))
	return existing, nil
}

// Delete removes an annotation by its ID.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM annotations WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete annotation", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete annotation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	r.logger.Info("Deleted annotation", zap.String("id", id))
	return nil
}

// CreateUser stores a new account.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create user", zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("Created user", zap.String("id", user.ID))
	return user, nil
}

// GetUserByEmail retrieves an account by email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE email = $1
	`

	var user models.User
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
	r.logger.Info("Closed database connection")
}

func scanAnnotation(row pgx.Row) (*models.Annotation, error) {
	var a models.Annotation
	var icon string
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.Description,
		&a.Latitude,
		&a.Longitude,
		&icon,
		&a.StartDate,
		&a.EndDate,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.IconCategory = models.IconCategory(icon)
	return &a, nil
}
