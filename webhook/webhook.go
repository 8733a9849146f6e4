package webhook

import "time"

/* Request is a normalized inbound webhook call
 * Uses value semantics as it represents data, not behavior
 * Created once per HTTP call and consumed once by the Router
 */
type Request struct {
	Source    Source
	Body      []byte
	Headers   map[string]string
	Query     map[string]string
	Timestamp time.Time // provider-supplied event time, zero when absent
	Nonce     string    // deduplication key, empty when the source has none
	Signature string
}

// Header returns the value for the given header key, or ""
func (r Request) Header(key string) string {
	return r.Headers[key]
}

/* Response is the normalized outcome of processing a Request
 * Status carries the HTTP status the caller should answer with
 */
type Response struct {
	Status    int
	Received  bool
	Processed bool
	Err       *ResponseError
}

// ResponseError describes why a webhook was rejected or failed
type ResponseError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Accepted builds the response for a fully processed webhook
func Accepted() Response {
	return Response{Status: 200, Received: true, Processed: true}
}

// AcceptedUnprocessed builds the response for a webhook that was received
// but intentionally not acted on (duplicate delivery, rate limited, unknown event)
func AcceptedUnprocessed() Response {
	return Response{Status: 200, Received: true}
}

// Rejected builds an error response with the given status and reason
func Rejected(status int, code, message string, retryable bool) Response {
	return Response{
		Status:   status,
		Received: true,
		Err: &ResponseError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}
