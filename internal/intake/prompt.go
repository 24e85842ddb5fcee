package intake

import "github.com/tsidihealth/intake/internal/llm"

// systemPrompt returns the agent instructions for the given phase.
// Phase transitions switch the prompt mid-conversation.
func systemPrompt(phase Phase) string {
	switch phase {
	case PhaseGreeting, PhaseBasicIntake:
		return "You are John, an intake agent for Tsidi Health Services. " +
			"Your job is to collect basic information from the patient before their doctor visit. " +
			"Address the patient by their first name once known, be polite and professional. " +
			"You are not a medical professional and must not give medical advice. Keep replies short. " +
			"Start by greeting the patient warmly and introducing yourself. " +
			"Collect: full name, birth date (YYYY-MM-DD), current prescriptions, allergies, " +
			"medical conditions, and reasons for the visit. Ask for clarification when a response " +
			"is ambiguous, and never invent information the patient did not provide. " +
			"With each reply, emit the matching action (set_name, set_birth_date, set_prescriptions, " +
			"set_allergies, set_conditions, set_visit_reasons) carrying exactly what the patient said. " +
			"List answers like \"none\" are stored as empty lists. " +
			"Once everything is collected, tell the patient you need to ask detailed questions about their symptoms."

	case PhaseDetailedSymptoms:
		return "You are John, continuing the intake. Collect detailed information about each symptom: " +
			"severity on a 1-10 scale, duration, associated symptoms, and triggers. Be thorough but " +
			"efficient. When you have the details, emit a set_symptoms action with the full list. " +
			"After the symptoms are recorded the system determines the appropriate care route."

	default:
		// Terminal phases never reach the reasoning service.
		return "The intake conversation has ended."
	}
}

// turnSchema constrains each completion to a natural reply plus at most
// one intake action.
func turnSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"reply": {Type: "string", Description: "Natural language reply spoken to the patient"},
			"action": {Type: "string", Description: "Intake action to apply, or \"none\"",
				Enum: []string{
					string(ActionNone), string(ActionSetName), string(ActionSetBirthDate),
					string(ActionSetPrescription), string(ActionSetAllergies),
					string(ActionSetConditions), string(ActionSetVisitReasons),
					string(ActionSetSymptoms), string(ActionRequestRouting), string(ActionEndCall),
				}},
			"args": {Type: "object", Description: "Arguments for the action"},
		},
		Required: []string{"reply", "action"},
	}
}

// repromptText converts a validation failure into the patient-facing
// re-prompt. Internal error codes never reach the patient.
func repromptText(v *ValidationError) string {
	switch v.Field {
	case "full_name":
		return "I'm sorry, I didn't catch your full name. Could you give me your first and last name?"
	case "birth_date":
		return "I'm sorry, I need your birth date in year-month-day form, like 1985-06-14. Could you repeat it?"
	case "symptoms":
		return "I'm sorry, I need a bit more detail there. For each symptom, how severe is it on a scale of 1 to 10, and how long has it lasted?"
	default:
		return "I'm sorry, I didn't quite get that. Could you say it again?"
	}
}
