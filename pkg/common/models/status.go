package models

import (
	"fmt"
	"strings"
)

type RequestStatus string

const (
	StatusInitiated          RequestStatus = "INITIATED"
	StatusLabTestInProgress  RequestStatus = "LAB_TEST_IN_PROGRESS"
	StatusLabTestCompleted   RequestStatus = "LAB_TEST_COMPLETED"
	StatusDiagnosisInProcess RequestStatus = "DIAGNOSIS_IN_PROCESS"
	StatusCompleted          RequestStatus = "COMPLETED"
)

// transitions lists the single forward edge out of each non-terminal status.
var transitions = map[RequestStatus]RequestStatus{
	StatusInitiated:          StatusLabTestInProgress,
	StatusLabTestInProgress:  StatusLabTestCompleted,
	StatusLabTestCompleted:   StatusDiagnosisInProcess,
	StatusDiagnosisInProcess: StatusCompleted,
}

var statusOrder = map[RequestStatus]int{
	StatusInitiated:          0,
	StatusLabTestInProgress:  1,
	StatusLabTestCompleted:   2,
	StatusDiagnosisInProcess: 3,
	StatusCompleted:          4,
}

func (s RequestStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	to, ok := transitions[s]
	return ok && to == next
}

// AtLeast reports whether s is other or a later stage of the workflow.
func (s RequestStatus) AtLeast(other RequestStatus) bool {
	a, okA := statusOrder[s]
	b, okB := statusOrder[other]
	return okA && okB && a >= b
}

func ParseRequestStatus(raw string) (RequestStatus, error) {
	status := RequestStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown request status %q", raw)
	}
	return status, nil
}

type TestStatus string

const (
	TestPositive TestStatus = "POSITIVE"
	TestNegative TestStatus = "NEGATIVE"
)

func (t TestStatus) Valid() bool {
	return t == TestPositive || t == TestNegative
}

type DoctorSuggestion string

const (
	SuggestionNoIssues       DoctorSuggestion = "NO_ISSUES"
	SuggestionHomeQuarantine DoctorSuggestion = "HOME_QUARANTINE"
	SuggestionAdmit          DoctorSuggestion = "ADMIT"
)

func (d DoctorSuggestion) Valid() bool {
	switch d {
	case SuggestionNoIssues, SuggestionHomeQuarantine, SuggestionAdmit:
		return true
	}
	return false
}

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}
