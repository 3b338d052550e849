package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldEntryID     = "entry_id"
	FieldGoalID      = "goal_id"
	FieldPeriod      = "period"
	FieldCategory    = "category"
	FieldAmountCents = "amount_cents"
	FieldAttempt     = "attempt"
	FieldEventType   = "event_type"
	FieldEventID     = "event_id"
	FieldIdemKey     = "idempotency_key"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentReconcile = "reconcile"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentKafka     = "kafka"
	ComponentWorker    = "worker"
	ComponentNotify    = "notify"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpRecordExpense      = "record_expense"
	OpRecordContribution = "record_contribution"
	OpCreateUser         = "create_user"
	OpCreateGoal         = "create_goal"
	OpAbandonGoal        = "abandon_goal"
	OpRegisterDevice     = "register_device"
	OpRemoveDevice       = "remove_device"
	OpNotify             = "notify"
	OpReconcile          = "reconcile"
	OpPublish            = "publish"
	OpConsume            = "consume"
	OpShutdown           = "shutdown"
	OpStartup            = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error field; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEntry adds ledger entry fields
func (f LogFields) WithEntry(userID, entryID, period, category string, amountCents int64) LogFields {
	f[FieldUserID] = userID
	f[FieldEntryID] = entryID
	f[FieldPeriod] = period
	if category != "" {
		f[FieldCategory] = category
	}
	f[FieldAmountCents] = amountCents
	return f
}

// WithGoal adds goal fields
func (f LogFields) WithGoal(userID, goalID string, amountCents int64) LogFields {
	f[FieldUserID] = userID
	f[FieldGoalID] = goalID
	f[FieldAmountCents] = amountCents
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
