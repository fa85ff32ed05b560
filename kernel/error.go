package kernel

// Error describes an error that was encountered by a kernel subsystem. It
// intentionally avoids the standard errors package so that error values can
// be constructed as static, zero-allocation values before the heap allocator
// is available.
type Error struct {
	// Module contains the name of the module that generated this error.
	Module string

	// Message contains the error description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
