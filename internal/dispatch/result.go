package dispatch

// GenericApology is spoken whenever nothing more specific applies.
const GenericApology = "I'm sorry, I ran into a problem on my end. Can I take a message and have someone from the office call you back?"

// Result is the outcome of one tool call. A failed result always carries a
// message the assistant can say aloud.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// Ok builds a successful result.
func Ok(data any, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

// Fail builds a failed result. An empty message is replaced with GenericApology.
func Fail(reason, message string) Result {
	if reason == "" {
		reason = "failed"
	}
	if message == "" {
		message = GenericApology
	}
	return Result{Success: false, Error: reason, Message: message}
}
