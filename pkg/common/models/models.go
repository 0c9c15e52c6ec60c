package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // testrequest.created, testrequest.status_changed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventTestRequestCreated       = "testrequest.created"
	EventTestRequestStatusChanged = "testrequest.status_changed"
)

// DLP
type PHIDetectionResult struct {
	Detected   bool          `json:"detected"`
	Confidence float64       `json:"confidence"`
	PHITypes   []string      `json:"phi_types"`
	Positions  []PHIPosition `json:"positions"`
}

type PHIPosition struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Identity
const (
	RoleUser   = "USER"
	RoleTester = "TESTER"
	RoleDoctor = "DOCTOR"
	RoleAdmin  = "ADMIN"
)

type User struct {
	ID        uuid.UUID              `json:"id"`
	Email     string                 `json:"email"`
	Name      string                 `json:"name"`
	Role      string                 `json:"role"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterUserRequest struct {
	Email    string                 `json:"email"`
	Name     string                 `json:"name"`
	Password string                 `json:"password"`
	Role     string                 `json:"role,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Test requests
type TestRequest struct {
	RequestID    int64         `json:"requestId"`
	Name         string        `json:"name"`
	Gender       Gender        `json:"gender"`
	Age          int           `json:"age"`
	Email        string        `json:"email"`
	PhoneNumber  string        `json:"phoneNumber"`
	Address      string        `json:"address"`
	PinCode      int           `json:"pinCode"`
	CreatedBy    uuid.UUID     `json:"createdBy"`
	Created      time.Time     `json:"created"`
	Status       RequestStatus `json:"status"`
	LabResult    *LabResult    `json:"labResult,omitempty"`
	Consultation *Consultation `json:"consultation,omitempty"`
}

type LabResult struct {
	BloodPressure string     `json:"bloodPressure"`
	HeartBeat     string     `json:"heartBeat"`
	OxygenLevel   string     `json:"oxygenLevel"`
	Temperature   string     `json:"temperature"`
	Comments      string     `json:"comments,omitempty"`
	Result        TestStatus `json:"result,omitempty"`
	Tester        uuid.UUID  `json:"tester"`
	UpdatedOn     time.Time  `json:"updatedOn"`
}

type Consultation struct {
	Suggestion DoctorSuggestion `json:"suggestion,omitempty"`
	Comments   string           `json:"comments,omitempty"`
	Doctor     uuid.UUID        `json:"doctor"`
	UpdatedOn  time.Time        `json:"updatedOn"`
}

type TestRequestFlow struct {
	ID         int64                  `json:"id"`
	RequestID  int64                  `json:"requestId"`
	FromStatus RequestStatus          `json:"fromStatus,omitempty"`
	ToStatus   RequestStatus          `json:"toStatus"`
	ChangedBy  uuid.UUID              `json:"changedBy"`
	HappenedOn time.Time              `json:"happenedOn"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

type CreateTestRequest struct {
	Name        string `json:"name"`
	Gender      Gender `json:"gender"`
	Age         int    `json:"age"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
	PinCode     int    `json:"pinCode"`
}

type CreateLabResult struct {
	BloodPressure string     `json:"bloodPressure"`
	HeartBeat     string     `json:"heartBeat"`
	OxygenLevel   string     `json:"oxygenLevel"`
	Temperature   string     `json:"temperature"`
	Comments      string     `json:"comments"`
	Result        TestStatus `json:"result"`
}

type CreateConsultationRequest struct {
	Suggestion DoctorSuggestion `json:"suggestion"`
	Comments   string           `json:"comments"`
}

// Notifications
type Notification struct {
	RequestID int64         `json:"requestId"`
	Status    RequestStatus `json:"status"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"createdAt"`
}
