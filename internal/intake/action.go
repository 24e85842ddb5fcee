package intake

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tsidihealth/intake/internal/triage"
)

// ActionKind names one of the closed set of intake actions the reasoning
// service may request. Free-form function dispatch is deliberately not
// supported: every action is validated centrally before it touches the
// record.
type ActionKind string

const (
	ActionNone            ActionKind = "none"
	ActionSetName         ActionKind = "set_name"
	ActionSetBirthDate    ActionKind = "set_birth_date"
	ActionSetPrescription ActionKind = "set_prescriptions"
	ActionSetAllergies    ActionKind = "set_allergies"
	ActionSetConditions   ActionKind = "set_conditions"
	ActionSetVisitReasons ActionKind = "set_visit_reasons"
	ActionSetSymptoms     ActionKind = "set_symptoms"
	ActionRequestRouting  ActionKind = "request_routing"
	ActionEndCall         ActionKind = "end_call"
)

// Action is one decoded intake action with its kind-specific arguments.
type Action struct {
	Kind ActionKind
	Args json.RawMessage
}

// DecodeAction validates the kind string and wraps the raw arguments.
func DecodeAction(kind string, args json.RawMessage) (Action, error) {
	k := ActionKind(kind)
	switch k {
	case ActionNone, ActionSetName, ActionSetBirthDate, ActionSetPrescription,
		ActionSetAllergies, ActionSetConditions, ActionSetVisitReasons,
		ActionSetSymptoms, ActionRequestRouting, ActionEndCall:
		return Action{Kind: k, Args: args}, nil
	}
	return Action{}, fmt.Errorf("unknown intake action %q", kind)
}

type nameArgs struct {
	First string `json:"first_name"`
	Last  string `json:"last_name"`
}

type birthDateArgs struct {
	BirthDate string `json:"birth_date"`
}

type prescriptionArgs struct {
	Prescriptions []triage.Prescription `json:"prescriptions"`
}

type stringListArgs struct {
	Items []string `json:"items"`
}

type symptomArgs struct {
	Symptoms []triage.Symptom `json:"symptoms"`
}

// Apply validates the action against the session's record and, on
// success, stores the data. A *ValidationError leaves the record
// untouched so the conversation can re-prompt.
func (s *Session) Apply(a Action) error {
	switch a.Kind {
	case ActionNone, ActionRequestRouting, ActionEndCall:
		return nil

	case ActionSetName:
		var args nameArgs
		if err := json.Unmarshal(a.Args, &args); err != nil {
			return &ValidationError{Field: "full_name", Reason: "malformed name"}
		}
		first := strings.TrimSpace(args.First)
		last := strings.TrimSpace(args.Last)
		if first == "" || last == "" {
			return &ValidationError{Field: "full_name", Reason: "first and last name are both required"}
		}
		s.Record.FullName = &triage.Name{First: first, Last: last}
		return nil

	case ActionSetBirthDate:
		var args birthDateArgs
		if err := json.Unmarshal(a.Args, &args); err != nil {
			return &ValidationError{Field: "birth_date", Reason: "malformed date"}
		}
		t, err := time.Parse("2006-01-02", strings.TrimSpace(args.BirthDate))
		if err != nil {
			return &ValidationError{Field: "birth_date", Reason: "date must be YYYY-MM-DD"}
		}
		if t.Year() < 1900 || t.After(time.Now()) {
			return &ValidationError{Field: "birth_date", Reason: "date is not a plausible birth date"}
		}
		s.Record.BirthDate = t.Format("2006-01-02")
		return nil

	case ActionSetPrescription:
		var args prescriptionArgs
		if err := json.Unmarshal(a.Args, &args); err != nil {
			return &ValidationError{Field: "prescriptions", Reason: "malformed prescription list"}
		}
		for _, p := range args.Prescriptions {
			if strings.TrimSpace(p.Medication) == "" {
				return &ValidationError{Field: "prescriptions", Reason: "each prescription needs a medication name"}
			}
		}
		// An empty list is a valid answer: the patient takes nothing.
		if args.Prescriptions == nil {
			args.Prescriptions = []triage.Prescription{}
		}
		s.Record.Prescriptions = args.Prescriptions
		return nil

	case ActionSetAllergies:
		items, err := decodeStringList(a.Args, "allergies")
		if err != nil {
			return err
		}
		s.Record.Allergies = items
		return nil

	case ActionSetConditions:
		items, err := decodeStringList(a.Args, "conditions")
		if err != nil {
			return err
		}
		s.Record.Conditions = items
		return nil

	case ActionSetVisitReasons:
		items, err := decodeStringList(a.Args, "visit_reasons")
		if err != nil {
			return err
		}
		s.Record.VisitReasons = items
		return nil

	case ActionSetSymptoms:
		var args symptomArgs
		if err := json.Unmarshal(a.Args, &args); err != nil {
			return &ValidationError{Field: "symptoms", Reason: "malformed symptom list"}
		}
		if len(args.Symptoms) == 0 {
			return &ValidationError{Field: "symptoms", Reason: "at least one symptom is required"}
		}
		for _, sym := range args.Symptoms {
			if strings.TrimSpace(sym.Name) == "" {
				return &ValidationError{Field: "symptoms", Reason: "each symptom needs a name"}
			}
			if sym.Severity < 1 || sym.Severity > 10 {
				return &ValidationError{Field: "symptoms", Reason: "severity must be between 1 and 10"}
			}
			if strings.TrimSpace(sym.Duration) == "" {
				return &ValidationError{Field: "symptoms", Reason: "each symptom needs a duration"}
			}
		}
		s.Record.Symptoms = args.Symptoms
		return nil
	}

	return fmt.Errorf("unhandled intake action %q", a.Kind)
}

func decodeStringList(raw json.RawMessage, field string) ([]string, error) {
	var args stringListArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ValidationError{Field: field, Reason: "malformed list"}
	}
	for _, item := range args.Items {
		if strings.TrimSpace(item) == "" {
			return nil, &ValidationError{Field: field, Reason: "entries must be non-empty"}
		}
	}
	if args.Items == nil {
		args.Items = []string{}
	}
	return args.Items, nil
}
