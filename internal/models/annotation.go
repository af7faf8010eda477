// Package models contains the data models for the application.
package models

import (
	"fmt"
	"time"
)

// IconCategory identifies the marker icon shown for an annotation.
type IconCategory string

const (
	IconDanger   IconCategory = "danger"
	IconSafe     IconCategory = "safe"
	IconDisaster IconCategory = "disaster"
)

// Valid reports whether the category is one of the known marker icons.
func (c IconCategory) Valid() bool {
	switch c {
	case IconDanger, IconSafe, IconDisaster:
		return true
	}
	return false
}

// DescriptionPlaceholder is the placeholder text the create form shows before
// the user types a description. It is never persisted.
const DescriptionPlaceholder = "Write Description"

// NormalizeDescription maps the untouched placeholder to an empty description.
func NormalizeDescription(s string) string {
	if s == DescriptionPlaceholder {
		return ""
	}
	return s
}

// Annotation represents a user-placed, time-bounded map marker.
//
// ID is assigned by the server on first successful create and never changes.
// An empty ID means the annotation has not been persisted yet. EndDate, when
// set, is the inclusive last instant of the marker's validity window
// (23:59:59 local time on the day the user selected).
type Annotation struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	IconCategory IconCategory `json:"imageName"`
	StartDate    *time.Time   `json:"startDate,omitempty"`
	EndDate      *time.Time   `json:"endDate,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ValidateCoordinate checks that the annotation's coordinate is on the map.
func (a *Annotation) ValidateCoordinate() error {
	if a.Latitude < -90 || a.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", a.Latitude)
	}
	if a.Longitude < -180 || a.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", a.Longitude)
	}
	return nil
}

// CreateAnnotationRequest represents the request body for creating an annotation.
type CreateAnnotationRequest struct {
	Title        string       `json:"title" binding:"required,max=256"`
	Description  string       `json:"description" binding:"max=1024"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	IconCategory IconCategory `json:"imageName" binding:"required"`
	StartDate    *time.Time   `json:"startDate,omitempty"`
	EndDate      *time.Time   `json:"endDate,omitempty"`
}

// UpdateAnnotationRequest represents the request body for updating an
// annotation. The coordinate is immutable after creation, so it cannot be
// patched; nil fields are left unchanged.
type UpdateAnnotationRequest struct {
	Title        *string       `json:"title,omitempty" binding:"omitempty,max=256"`
	Description  *string       `json:"description,omitempty" binding:"omitempty,max=1024"`
	IconCategory *IconCategory `json:"imageName,omitempty"`
	StartDate    *time.Time    `json:"startDate,omitempty"`
	EndDate      *time.Time    `json:"endDate,omitempty"`
}

// AnnotationResponse wraps a single annotation in the API response.
type AnnotationResponse struct {
	Data Annotation `json:"data"`
}

// AnnotationsResponse wraps multiple annotations in the API response.
type AnnotationsResponse struct {
	Data []Annotation `json:"data"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
