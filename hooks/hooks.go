package hooks

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and the sync engine call them on hot paths.
type Hooks interface {
	// A CAS attempt on key lost its precondition (concurrent writer).
	// attempt is 1-based.
	CASConflict(key string, attempt int)

	// AddOrUpdate gave up on key after attempts tries.
	CASExhausted(key string, attempts int)

	// A best-effort cache operation failed and was swallowed.
	// op ∈ {"get", "put", "delete", "exists", "cas", "list_push", "list_pop_push",
	// "list_trim", "list_remove", "list_length", "publish", "subscribe", "decode", "encode"}
	CacheError(op, key string, err error)

	// A sync step failed. fatal reports whether the error reached the caller.
	// op ∈ {"save", "save_index", "delete", "total_delete", "delete_index", "get"}
	StepFailed(op, step string, fatal bool, err error)

	// An ownership claim rejected the acting subject.
	AuthorizationDenied(op string)

	// The queue publisher failed a stage. stage ∈ {"push"}; publish transport
	// failures are reported through CacheError with op "publish".
	PublishFailed(stage string, err error)
}

// Nop is the default no-op
type Nop struct{}

func (Nop) CASConflict(string, int)                {}
func (Nop) CASExhausted(string, int)               {}
func (Nop) CacheError(string, string, error)       {}
func (Nop) StepFailed(string, string, bool, error) {}
func (Nop) AuthorizationDenied(string)             {}
func (Nop) PublishFailed(string, error)            {}

// OrNop returns h, or Nop when h is nil.
func OrNop(h Hooks) Hooks {
	if h == nil {
		return Nop{}
	}
	return h
}

// Multi fans every event out to each of its hooks, in order.
type Multi []Hooks

func (m Multi) CASConflict(key string, attempt int) {
	for _, h := range m {
		h.CASConflict(key, attempt)
	}
}

func (m Multi) CASExhausted(key string, attempts int) {
	for _, h := range m {
		h.CASExhausted(key, attempts)
	}
}

func (m Multi) CacheError(op, key string, err error) {
	for _, h := range m {
		h.CacheError(op, key, err)
	}
}

func (m Multi) StepFailed(op, step string, fatal bool, err error) {
	for _, h := range m {
		h.StepFailed(op, step, fatal, err)
	}
}

func (m Multi) AuthorizationDenied(op string) {
	for _, h := range m {
		h.AuthorizationDenied(op)
	}
}

func (m Multi) PublishFailed(stage string, err error) {
	for _, h := range m {
		h.PublishFailed(stage, err)
	}
}
