package switchboard

import "fmt"

// ErrMalformedPayload indicates an inbound provider payload was missing a
// required field or carried one of the wrong type. Transports reject the
// request at the parse step rather than returning a silently-empty response.
type ErrMalformedPayload struct {
	Transport string
	Reason    string
}

func (e *ErrMalformedPayload) Error() string {
	return fmt.Sprintf("%s: malformed payload: %s", e.Transport, e.Reason)
}

// ErrUpstreamDelivery indicates a provider send API returned a non-success
// status. Prior successfully delivered blocks of the same batch are not
// rolled back.
type ErrUpstreamDelivery struct {
	Provider string
	Status   int
	Body     string
}

func (e *ErrUpstreamDelivery) Error() string {
	return fmt.Sprintf("%s: delivery failed with status %d: %s", e.Provider, e.Status, e.Body)
}

// ErrUnsupportedContent indicates an output block kind has no send mapping
// for the transport. Dropped, not fatal to the rest of the batch.
type ErrUnsupportedContent struct {
	Transport string
	MimeType  string
}

func (e *ErrUnsupportedContent) Error() string {
	return fmt.Sprintf("%s: no send mapping for content type %q", e.Transport, e.MimeType)
}
