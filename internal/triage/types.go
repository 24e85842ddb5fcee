// Package triage holds the domain types shared across the intake core:
// care routes, learned cases, and the patient record collected during a
// conversation. These are plain data types with no storage or service
// knowledge.
package triage

import (
	"fmt"
	"time"
)

// Route is the triage outcome of an intake conversation.
type Route string

const (
	RouteEmergency   Route = "emergency"
	RouteUrgent      Route = "urgent"
	RouteRoutine     Route = "routine"
	RouteSelfCare    Route = "self_care"
	RouteInformation Route = "information"
)

// Routes returns the closed set of valid routes in display order.
func Routes() []Route {
	return []Route{RouteEmergency, RouteUrgent, RouteRoutine, RouteSelfCare, RouteInformation}
}

// ParseRoute validates a route string against the closed set.
func ParseRoute(s string) (Route, error) {
	r := Route(s)
	switch r {
	case RouteEmergency, RouteUrgent, RouteRoutine, RouteSelfCare, RouteInformation:
		return r, nil
	}
	return "", fmt.Errorf("unknown route %q", s)
}

// CaseOrigin records how a case entered the memory.
type CaseOrigin string

const (
	// OriginDirect marks cases curated from conversations the system
	// routed on its own, with no human review.
	OriginDirect CaseOrigin = "direct"
	// OriginEscalationConfirmed marks escalated cases where the human
	// agreed with the system's prediction.
	OriginEscalationConfirmed CaseOrigin = "escalation_confirmed"
	// OriginEscalationCorrected marks escalated cases where the human
	// supplied a different route.
	OriginEscalationCorrected CaseOrigin = "escalation_corrected"
)

// Case is the unit of learning: a labeled, embedded record of one
// resolved intake. Cases are immutable after creation and never deleted.
type Case struct {
	ID        string
	SessionID string
	Summary   string
	Embedding []float32
	Route     Route
	Origin    CaseOrigin
	CreatedAt time.Time
}

// Name is a patient's full name as collected during basic intake.
type Name struct {
	First string `json:"first_name"`
	Last  string `json:"last_name"`
}

// Prescription is a current medication with its dosage.
type Prescription struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
}

// Symptom is one detailed symptom report from the detailed_symptoms phase.
type Symptom struct {
	Name               string   `json:"symptom"`
	Severity           int      `json:"severity"` // 1..10
	Duration           string   `json:"duration"`
	AssociatedSymptoms []string `json:"associated_symptoms,omitempty"`
	Triggers           string   `json:"triggers,omitempty"`
}

// PatientRecord is the structured data a conversation collects. Fields
// start unset and are filled by validated intake actions; list fields
// distinguish "not asked yet" (nil) from "patient has none" (empty).
type PatientRecord struct {
	FullName      *Name
	BirthDate     string // ISO calendar date, validated on set
	Prescriptions []Prescription
	Allergies     []string
	Conditions    []string
	VisitReasons  []string
	Symptoms      []Symptom
}

// BasicComplete reports whether every basic_intake field has been set.
// Empty lists count as answered: "no allergies" is valid data.
func (r *PatientRecord) BasicComplete() bool {
	return r.FullName != nil &&
		r.BirthDate != "" &&
		r.Prescriptions != nil &&
		r.Allergies != nil &&
		r.Conditions != nil &&
		r.VisitReasons != nil
}

// HasSymptoms reports whether the detailed symptom phase has produced data.
func (r *PatientRecord) HasSymptoms() bool {
	return len(r.Symptoms) > 0
}
