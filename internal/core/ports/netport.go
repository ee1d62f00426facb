package ports

// PortAllocator hands out free host ports for published container ports.
type PortAllocator interface {
	// Reserve picks a free port and holds it until Confirm is called.
	Reserve() (PortReservation, error)
	// Release forgets a port handed out by Reserve.
	Release(port int)
	// Claim marks a port already in use by a running container as reserved.
	Claim(port int)
}

// PortReservation is a port held by the allocator.
type PortReservation interface {
	Port() int
	// Confirm lets go of the probe socket so the runtime can bind the port.
	// The port stays reserved in-process until Release.
	Confirm() error
}
