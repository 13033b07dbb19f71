package rpc

// Call is one inbound remote call as delivered by the transport: an
// HTTP-like method, an endpoint URI (path plus optional query) and an
// opaque body. It is owned by the dispatch flow for the duration of one
// call and is never persisted.
type Call struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	Body     string `json:"body"`
}

// QueryOptions carries the optional pagination parameters of a GET call.
// Nil fields mean the caller did not supply them.
type QueryOptions struct {
	Limit        *int
	FromServerID *int64
}

// Reply is the successful outcome of a dispatched call: an HTTP-like
// status code plus an optional JSON-shaped payload produced by the
// handler. Status-only replies (deletes, unbans) leave Payload nil.
type Reply struct {
	Status  int
	Payload any
}
