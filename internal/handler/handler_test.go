package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/auth"
	"github.com/map-annotator/backend/internal/models"
)

// MockRepository implements database.Repository for testing
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, req *models.CreateAnnotationRequest) (*models.Annotation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Annotation), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*models.Annotation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Annotation), args.Error(1)
}

func (m *MockRepository) GetAll(ctx context.Context) ([]models.Annotation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Annotation), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, id string, req *models.UpdateAnnotationRequest) (*models.Annotation, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Annotation), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	args := m.Called(ctx, email, passwordHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockRepository) Close() {
	m.Called()
}

// MockCache implements cache.Cache for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, id string) (*models.Annotation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Annotation), args.Error(1)
}

func (m *MockCache) GetAll(ctx context.Context) ([]models.Annotation, bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]models.Annotation), args.Bool(1), args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, annotation *models.Annotation) error {
	args := m.Called(ctx, annotation)
	return args.Error(0)
}

func (m *MockCache) SetAll(ctx context.Context, annotations []models.Annotation) error {
	args := m.Called(ctx, annotations)
	return args.Error(0)
}

func (m *MockCache) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCache) InvalidateAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCache) DenyToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	args := m.Called(ctx, tokenID, ttl)
	return args.Error(0)
}

func (m *MockCache) TokenDenied(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

// stubBlobStore implements blob.Store for testing
type stubBlobStore struct{}

func (stubBlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	return "/images/" + name, nil
}

func setupTestHandler(t *testing.T) (*MockRepository, *MockCache, *gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockRepo := new(MockRepository)
	mockCache := new(MockCache)
	logger := zap.NewNop()

	authSvc := auth.NewService(mockRepo, mockCache, "test-secret", time.Hour, logger)
	h := NewHandler(mockRepo, mockCache, authSvc, stubBlobStore{}, logger)

	engine := gin.New()
	rg := engine.Group("/api/v1")
	h.RegisterRoutes(rg)

	// Issue a token for the protected routes. The middleware checks the
	// denylist on every request.
	mockRepo.On("GetUserByEmail", mock.Anything, "tester@example.com").Return(nil, nil).Once()
	mockRepo.On("CreateUser", mock.Anything, "tester@example.com", mock.Anything).Return(&models.User{
		ID:    "tester-id",
		Email: "tester@example.com",
	}, nil).Once()
	mockCache.On("TokenDenied", mock.Anything, mock.Anything).Return(false, nil).Maybe()

	resp, err := authSvc.SignUp(context.Background(), &models.SignUpRequest{
		Email:           "tester@example.com",
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
	})
	require.NoError(t, err)

	return mockRepo, mockCache, engine, resp.Token
}

func doJSON(engine *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestCreate_Success(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	expectedAnnotation := &models.Annotation{
		ID:           "test-uuid",
		Title:        "Road closed",
		Description:  "Flooding after the storm",
		Latitude:     13.7563,
		Longitude:    100.5018,
		IconCategory: models.IconDanger,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(req *models.CreateAnnotationRequest) bool {
		return req.Title == "Road closed" && req.IconCategory == models.IconDanger
	})).Return(expectedAnnotation, nil)
	mockCache.On("Set", mock.Anything, expectedAnnotation).Return(nil)

	body := `{"title": "Road closed", "description": "Flooding after the storm", "latitude": 13.7563, "longitude": 100.5018, "imageName": "danger"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/annotations", body, token)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response models.AnnotationResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, expectedAnnotation.ID, response.Data.ID)
	assert.Equal(t, expectedAnnotation.Title, response.Data.Title)

	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestCreate_Unauthorized(t *testing.T) {
	_, _, engine, _ := setupTestHandler(t)

	body := `{"title": "Road closed", "latitude": 0, "longitude": 0, "imageName": "danger"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/annotations", body, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreate_InvalidRequest(t *testing.T) {
	_, _, engine, token := setupTestHandler(t)

	// Missing required title and imageName
	body := `{"latitude": 1.0}`
	w := doJSON(engine, http.MethodPost, "/api/v1/annotations", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreate_UnknownIconCategory(t *testing.T) {
	_, _, engine, token := setupTestHandler(t)

	body := `{"title": "Marker", "latitude": 0, "longitude": 0, "imageName": "volcano"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/annotations", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreate_CoordinateOutOfRange(t *testing.T) {
	_, _, engine, token := setupTestHandler(t)

	body := `{"title": "Marker", "latitude": 95.0, "longitude": 0, "imageName": "safe"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/annotations", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreate_EndDateBeforeStartDate(t *testing.T) {
	_, _, engine, token := setupTestHandler(t)

	body := `{"title": "Marker", "latitude": 0, "longitude": 0, "imageName": "safe",
		"startDate": "2024-06-02T00:00:00Z", "endDate": "2024-06-01T23:59:59Z"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/annotations", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAll_FromCache(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	cachedAnnotations := []models.Annotation{
		{ID: "1", Title: "Test 1", IconCategory: models.IconSafe},
		{ID: "2", Title: "Test 2", IconCategory: models.IconDanger},
	}

	mockCache.On("GetAll", mock.Anything).Return(cachedAnnotations, true, nil)

	w := doJSON(engine, http.MethodGet, "/api/v1/annotations", "", token)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.AnnotationsResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Len(t, response.Data, 2)

	mockRepo.AssertNotCalled(t, "GetAll")
	mockCache.AssertExpectations(t)
}

func TestGetAll_CacheMiss(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	past := time.Now().Add(-48 * time.Hour)
	dbAnnotations := []models.Annotation{
		{ID: "1", Title: "Live", IconCategory: models.IconSafe},
		{ID: "2", Title: "Expired", IconCategory: models.IconDanger, EndDate: &past},
	}

	mockCache.On("GetAll", mock.Anything).Return(nil, false, nil)
	mockRepo.On("GetAll", mock.Anything).Return(dbAnnotations, nil)
	mockCache.On("SetAll", mock.Anything, dbAnnotations).Return(nil)

	w := doJSON(engine, http.MethodGet, "/api/v1/annotations", "", token)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.AnnotationsResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	// Expired annotations are returned too; clients filter at load time.
	assert.Len(t, response.Data, 2)

	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestGetByID_NotFound(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	mockCache.On("Get", mock.Anything, "nonexistent").Return(nil, nil)
	mockRepo.On("GetByID", mock.Anything, "nonexistent").Return(nil, nil)

	w := doJSON(engine, http.MethodGet, "/api/v1/annotations/nonexistent", "", token)

	assert.Equal(t, http.StatusNotFound, w.Code)

	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestUpdate_Success(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	updatedAnnotation := &models.Annotation{
		ID:           "test-id",
		Title:        "Updated Title",
		Description:  "Updated Description",
		IconCategory: models.IconSafe,
		UpdatedAt:    time.Now(),
	}

	mockRepo.On("Update", mock.Anything, "test-id", mock.Anything).Return(updatedAnnotation, nil)
	mockCache.On("Set", mock.Anything, updatedAnnotation).Return(nil)

	body := `{"title": "Updated Title", "description": "Updated Description", "imageName": "safe"}`
	w := doJSON(engine, http.MethodPut, "/api/v1/annotations/test-id", body, token)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.AnnotationResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "Updated Title", response.Data.Title)

	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestUpdate_NotFound(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	mockRepo.On("Update", mock.Anything, "nonexistent", mock.Anything).Return(nil, nil)

	body := `{"title": "Updated Title"}`
	w := doJSON(engine, http.MethodPut, "/api/v1/annotations/nonexistent", body, token)

	assert.Equal(t, http.StatusNotFound, w.Code)

	mockRepo.AssertExpectations(t)
	mockCache.AssertNotCalled(t, "Set")
}

func TestUpdate_EmptyTitleRejected(t *testing.T) {
	mockRepo, _, engine, token := setupTestHandler(t)

	body := `{"title": ""}`
	w := doJSON(engine, http.MethodPut, "/api/v1/annotations/test-id", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockRepo.AssertNotCalled(t, "Update")
}

func TestUpdate_EndDateBeforeExistingStartDateRejected(t *testing.T) {
	mockRepo, _, engine, token := setupTestHandler(t)

	start := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	mockRepo.On("GetByID", mock.Anything, "test-id").Return(&models.Annotation{
		ID:           "test-id",
		Title:        "Marker",
		IconCategory: models.IconSafe,
		StartDate:    &start,
	}, nil)

	body := `{"endDate": "2024-06-01T23:59:59Z"}`
	w := doJSON(engine, http.MethodPatch, "/api/v1/annotations/test-id", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockRepo.AssertNotCalled(t, "Update")
}

func TestUpdate_StartDateAfterExistingEndDateRejected(t *testing.T) {
	mockRepo, _, engine, token := setupTestHandler(t)

	end := time.Date(2024, 6, 1, 23, 59, 59, 0, time.UTC)
	mockRepo.On("GetByID", mock.Anything, "test-id").Return(&models.Annotation{
		ID:           "test-id",
		Title:        "Marker",
		IconCategory: models.IconSafe,
		EndDate:      &end,
	}, nil)

	body := `{"startDate": "2024-06-10T00:00:00Z"}`
	w := doJSON(engine, http.MethodPatch, "/api/v1/annotations/test-id", body, token)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockRepo.AssertNotCalled(t, "Update")
}

func TestUpdate_ValidWindowPatchAccepted(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	newEnd := time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC)
	existing := &models.Annotation{
		ID:           "test-id",
		Title:        "Marker",
		IconCategory: models.IconSafe,
		StartDate:    &start,
	}
	updated := &models.Annotation{
		ID:           "test-id",
		Title:        "Marker",
		IconCategory: models.IconSafe,
		StartDate:    &start,
		EndDate:      &newEnd,
	}

	mockRepo.On("GetByID", mock.Anything, "test-id").Return(existing, nil)
	mockRepo.On("Update", mock.Anything, "test-id", mock.Anything).Return(updated, nil)
	mockCache.On("Set", mock.Anything, updated).Return(nil)

	body := `{"endDate": "2024-06-15T23:59:59Z"}`
	w := doJSON(engine, http.MethodPatch, "/api/v1/annotations/test-id", body, token)

	assert.Equal(t, http.StatusOK, w.Code)
	mockRepo.AssertExpectations(t)
}

func TestDelete_Success(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	mockRepo.On("Delete", mock.Anything, "test-id").Return(nil)
	mockCache.On("Delete", mock.Anything, "test-id").Return(nil)

	w := doJSON(engine, http.MethodDelete, "/api/v1/annotations/test-id", "", token)

	assert.Equal(t, http.StatusNoContent, w.Code)

	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestDelete_NotFound(t *testing.T) {
	mockRepo, mockCache, engine, token := setupTestHandler(t)

	mockRepo.On("Delete", mock.Anything, "nonexistent").Return(models.ErrNotFound)

	w := doJSON(engine, http.MethodDelete, "/api/v1/annotations/nonexistent", "", token)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockCache.AssertNotCalled(t, "Delete")
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	mockRepo, _, engine, _ := setupTestHandler(t)

	mockRepo.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, nil)

	body := `{"email": "ghost@example.com", "password": "whatever"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/auth/signin", body, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignUp_PasswordMismatch(t *testing.T) {
	_, _, engine, _ := setupTestHandler(t)

	body := `{"email": "new@example.com", "password": "hunter22", "confirmPassword": "different"}`
	w := doJSON(engine, http.MethodPost, "/api/v1/auth/signup", body, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignOut_MissingHeader(t *testing.T) {
	_, _, engine, _ := setupTestHandler(t)

	w := doJSON(engine, http.MethodPost, "/api/v1/auth/signout", "", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignOut_InvalidToken(t *testing.T) {
	_, _, engine, _ := setupTestHandler(t)

	w := doJSON(engine, http.MethodPost, "/api/v1/auth/signout", "", "not-a-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignOut_DenylistOutageIsServerError(t *testing.T) {
	_, mockCache, engine, token := setupTestHandler(t)

	mockCache.On("DenyToken", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	w := doJSON(engine, http.MethodPost, "/api/v1/auth/signout", "", token)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestUploadImage_Success(t *testing.T) {
	_, _, engine, token := setupTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "marker.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response map[string]string
	err = json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "/images/marker.jpg", response["url"])
}
