// Package gateway translates annotation store operations into calls against
// the remote annotation service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/models"
)

// Gateway is the remote persistence collaborator. Implementations never
// mutate the local store; callers reconcile store state from the returned
// results. Calls are not retried.
type Gateway interface {
	// Create persists a new record and returns the id the service assigned.
	Create(ctx context.Context, a models.Annotation) (string, error)

	// FetchAll returns every persisted record, unfiltered by expiry.
	FetchAll(ctx context.Context) ([]models.Annotation, error)

	// Update overwrites fields of the record with the given id. It returns
	// an error wrapping models.ErrNotFound when the id is unknown remotely.
	Update(ctx context.Context, id string, patch *models.UpdateAnnotationRequest) (models.Annotation, error)

	// Delete removes the record with the given id. Deleting an unknown id
	// is an error wrapping models.ErrNotFound, not an idempotent success.
	Delete(ctx context.Context, id string) error
}

// Client is an HTTP Gateway implementation against the annotation service
// API under /api/v1.
type Client struct {
	baseURL    string
	token      string
	logger     *zap.Logger
	httpClient *http.Client
}

// NewClient creates a gateway client. token is the bearer token obtained
// from the auth endpoints; timeout bounds every remote call.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Create persists a new annotation and returns its assigned id.
func (c *Client) Create(ctx context.Context, a models.Annotation) (string, error) {
	req := models.CreateAnnotationRequest{
		Title:        a.Title,
		Description:  a.Description,
		Latitude:     a.Latitude,
		Longitude:    a.Longitude,
		IconCategory: a.IconCategory,
		StartDate:    a.StartDate,
		EndDate:      a.EndDate,
	}

	var resp models.AnnotationResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/annotations", req, http.StatusCreated, &resp, "create"); err != nil {
		return "", err
	}

	c.logger.Debug("Created annotation remotely", zap.String("id", resp.Data.ID))
	return resp.Data.ID, nil
}

// FetchAll retrieves all persisted annotations.
func (c *Client) FetchAll(ctx context.Context) ([]models.Annotation, error) {
	var resp models.AnnotationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/annotations", nil, http.StatusOK, &resp, "fetch"); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched annotations", zap.Int("count", len(resp.Data)))
	return resp.Data, nil
}

// Update patches the annotation with the given id and returns the service's
// view of the record after the update.
func (c *Client) Update(ctx context.Context, id string, patch *models.UpdateAnnotationRequest) (models.Annotation, error) {
	var resp models.AnnotationResponse
	path := "/api/v1/annotations/" + id
	if err := c.do(ctx, http.MethodPatch, path, patch, http.StatusOK, &resp, "update"); err != nil {
		return models.Annotation{}, err
	}

	c.logger.Debug("Updated annotation remotely", zap.String("id", id))
	return resp.Data, nil
}

// Delete removes the annotation with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	path := "/api/v1/annotations/" + id
	if err := c.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil, "delete"); err != nil {
		return err
	}

	c.logger.Debug("Deleted annotation remotely", zap.String("id", id))
	return nil
}

// do executes one request against the service and decodes the response into
// out when out is non-nil. Any status other than want is mapped to a
// RemoteError, with 404 wrapping models.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any, op string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &models.RemoteError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &models.RemoteError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Remote call failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err),
		)
		return &models.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return &models.RemoteError{Op: op, Status: resp.StatusCode, Err: remoteFailure(resp)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &models.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// remoteFailure turns an unexpected response into an error, preserving the
// service's message when it sent one.
func remoteFailure(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}

	var body models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return errors.New(body.Message)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
