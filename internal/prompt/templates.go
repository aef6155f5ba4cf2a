package prompt

import "github.com/user/bankdesk/internal/schema"

// Template names, one per pipeline stage.
const (
	Intent   = "intent"
	Suggest  = "suggest"
	Select   = "select"
	Extract  = "extract"
	Respond  = "respond"
	Clarify  = "clarify"
	Resolved = "resolved"
)

// DefaultSystemPrompt is sent ahead of every stage prompt unless a custom
// prompt file is configured.
const DefaultSystemPrompt = `You are a professional banking assistant working for a retail bank. You help customers with account opening, billing issues, account access, transactions, cards, statements, loans and general questions.

Be concise, warm and precise. Never invent customer details and never ask for passwords, PINs or full card numbers.`

// Greeting is the assistant turn every new session starts with.
const Greeting = "Hello! I'm your banking assistant. How can I help you today?"

// Apology is the reply a customer sees when a turn could not be processed.
const Apology = "I'm sorry, I couldn't process your message right now. Please try sending it again in a moment."

// FieldValue is a required field together with the value collected for it.
type FieldValue struct {
	Key   string
	Hint  string
	Value string
}

// IntentData feeds the intent interpretation prompt.
type IntentData struct {
	Message string
}

// SuggestData feeds the category suggestion prompt.
type SuggestData struct {
	Intent     string
	Categories []schema.Summary
}

// SelectData feeds the category selection prompt.
type SelectData struct {
	Intent     string
	Message    string
	Candidates []string
	Current    string
}

// ExtractData feeds the detail extraction prompt.
type ExtractData struct {
	Category string
	Intent   string
	Message  string
	Known    []FieldValue
	Missing  []schema.Field
}

// RespondData feeds the response prompts.
type RespondData struct {
	Category   string
	Intent     string
	Message    string
	Known      []FieldValue
	Missing    []schema.Field
	Categories []schema.Summary
}

var stageTemplates = map[string]string{
	Intent: `Interpret the customer's intent clearly and concisely, taking the earlier conversation into account.

Customer message: {{.Message}}

Describe in one or two sentences what the customer wants or needs. Be specific and professional.`,

	Suggest: `Map the customer's request to one or more banking categories that may apply.

Available categories:
{{- range .Categories}}
- {{.Name}}: {{.Description}}
{{- end}}

Interpreted customer request:
{{.Intent}}

Return the matching category names exactly as written above, one per line, most likely first.`,

	Select: `Select the single most appropriate category for the customer's request.

Candidate categories:
{{- range .Candidates}}
- {{.}}
{{- end}}
{{- if .Current}}

The conversation is currently about: {{.Current}}
Keep this category unless the customer clearly raises a new, different concern.
{{- end}}

Interpreted customer request:
{{.Intent}}

Latest customer message:
{{.Message}}

Answer in exactly this format:
CATEGORY: <category name>
CONFIDENCE: <number between 0 and 1>
TOPIC_CHANGE: <yes or no>`,

	Extract: `You are collecting details for a "{{.Category}}" banking request.

Latest customer message: {{.Message}}
Interpreted intent: {{.Intent}}
{{- if .Known}}

Details already collected:
{{- range .Known}}
- {{.Key}} ({{.Hint}}): {{.Value}}
{{- end}}
{{- end}}

Details still missing:
{{- range .Missing}}
- {{.Key}}: {{.Hint}}
{{- else}}
- none
{{- end}}

Extract values for the missing details only if the customer actually stated them in the conversation. Use null for anything not stated; never guess.
If the customer's latest message explicitly corrects a detail already collected, put the corrected value under "corrections".

Return only JSON in this format:
{"extracted": {"<key>": "<value or null>"}, "corrections": {"<key>": "<new value>"}}`,

	Respond: `Write the next reply to the customer about their "{{.Category}}" request.

Latest customer message: {{.Message}}
{{- if .Known}}

Details already known (do not ask for these again):
{{- range .Known}}
- {{.Hint}}: {{.Value}}
{{- end}}
{{- end}}

Details still needed (ask only for these):
{{- range .Missing}}
- {{.Hint}}
{{- end}}

Acknowledge what the customer said, then ask for the details still needed in one short, friendly message. Do not ask for anything else.`,

	Resolved: `You are a professional banking assistant. Generate a helpful, friendly response to satisfy the customer.

Request category: {{.Category}}
Latest customer message: {{.Message}}

Collected information:
{{- range .Known}}
- {{.Hint}}: {{.Value}}
{{- end}}

Write a concise, professional response that:
1. Confirms what action you're taking or what information you're providing
2. Addresses the customer's needs based on the category
3. Is warm and reassuring
4. Ends with an offer to help further if needed

Keep it short and natural. Do not ask for any of the collected information again.`,

	Clarify: `The customer's request could not be matched to a banking category with confidence.

Latest customer message: {{.Message}}
Interpreted intent: {{.Intent}}

Categories we can help with:
{{- range .Categories}}
- {{.Name}}: {{.Description}}
{{- end}}

Ask one short clarifying question that helps the customer say which of these categories their request belongs to.`,
}
