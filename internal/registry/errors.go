package registry

import "fmt"

// UpstreamError reports a non-2xx answer from the registry or a compute
// service. The body excerpt is bounded so logs stay readable.
type UpstreamError struct {
	Endpoint    string
	Status      int
	BodyExcerpt string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.Endpoint, e.Status, e.BodyExcerpt)
}

// Retryable reports whether the failure is worth another attempt. Client
// errors are permanent; server errors and throttling are not.
func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}
