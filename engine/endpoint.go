package engine

// Endpoint receives the payloads of frames addressed to its registered
// destination id. Deliver always runs on the engine worker, so an
// implementation may touch engine-registered state without locking,
// but must not block: a slow endpoint stalls every other delivery.
type Endpoint interface {
	Deliver(seq uint16, payload []byte)
}

// EndpointFunc adapts a plain function to the Endpoint interface.
type EndpointFunc func(seq uint16, payload []byte)

// Deliver calls f.
func (f EndpointFunc) Deliver(seq uint16, payload []byte) {
	f(seq, payload)
}
