package services

// OutcomeKind names how a data request ended. Every request ends in exactly one.
type OutcomeKind string

const (
	OutcomePolicyRejection        OutcomeKind = "PolicyRejection"
	OutcomeRetrievalDegraded      OutcomeKind = "RetrievalDegraded"
	OutcomeTranslationUnavailable OutcomeKind = "TranslationUnavailable"
	OutcomeTranslationError       OutcomeKind = "TranslationError"
	OutcomeTranslationInvalid     OutcomeKind = "TranslationInvalid"
	OutcomeExecutionFailure       OutcomeKind = "ExecutionFailure"
	OutcomeNoData                 OutcomeKind = "NoData"
	OutcomeSuccess                OutcomeKind = "Success"
)

// Client-facing reasons. These strings are part of the API contract.
const (
	ReasonPolicyRejection        = "Your query contains restricted terms related to database modifications, which are not allowed."
	ReasonRetrievalDegraded      = "No relevant schema information was found for the given query."
	ReasonTranslationUnavailable = "SQL generation failed due to resource exhaustion or other issues."
	ReasonTranslationError       = "SQL generation failed due to an internal error."
	ReasonTranslationInvalid     = "Failed to process input into valid SQL."
	ReasonExecutionFailure       = "Error executing the SQL query."
	ReasonNoData                 = "No data found for the given query."
)

var reasons = map[OutcomeKind]string{
	OutcomePolicyRejection:        ReasonPolicyRejection,
	OutcomeRetrievalDegraded:      ReasonRetrievalDegraded,
	OutcomeTranslationUnavailable: ReasonTranslationUnavailable,
	OutcomeTranslationError:       ReasonTranslationError,
	OutcomeTranslationInvalid:     ReasonTranslationInvalid,
	OutcomeExecutionFailure:       ReasonExecutionFailure,
	OutcomeNoData:                 ReasonNoData,
}

// DataRequest is one natural-language question with its page window.
type DataRequest struct {
	UserQuery string
	Offset    int
	Limit     int
}

// Outcome is the single result of a data request. SQL and ShapedSQL are set
// once the pipeline got that far and are for logs and the CLI, never for
// failure responses.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	SQL        string
	ShapedSQL  string
	Table      string
	Rows       []map[string]any
	DataLength int64
}

// Succeeded reports whether rows were returned.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// IsServerError reports whether the outcome is a server-side failure rather
// than an answer about the request.
func (o Outcome) IsServerError() bool {
	return o.Kind == OutcomeTranslationError
}

func failure(kind OutcomeKind) Outcome {
	return Outcome{Kind: kind, Reason: reasons[kind]}
}
