package domain

// Container represents a container in the system (Docker, K8s, etc.)
type Container struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	State  string `json:"state"` // running, exited, etc.

	// Bundle is the folder id the container was started for, read back from
	// its label. Empty for containers this service does not manage.
	Bundle string `json:"bundle,omitempty"`
	// HostPort is the public port published for the bundle's container port.
	HostPort int `json:"host_port,omitempty"`
}

// RunSpec describes a detached container started for a bundle.
type RunSpec struct {
	Image         string
	Name          string
	ContainerPort int
	HostPort      int
	Labels        map[string]string
}

// RegistryEntry is what the registry remembers about a running bundle.
type RegistryEntry struct {
	ContainerID string `json:"id"`
	Port        int    `json:"port"`
}

// BundleLabel is set on every container started for a bundle; its value is
// the bundle folder id.
const BundleLabel = "lighthouse.bundle"
