package domain

// Environment identifies one candidate runtime interpreter.
// It is an immutable value supplied by an external discovery service;
// the engine looks environments up, it never creates them.
type Environment struct {
	// Path is the interpreter executable (absolute path or a name
	// resolvable on PATH).
	Path string `json:"path"`

	// Version is display metadata, e.g. "3.12.1". May be empty.
	Version string `json:"version,omitempty"`

	// DisplayName is a human-readable label. May be empty.
	DisplayName string `json:"display_name,omitempty"`
}

// String returns the friendliest available label for the environment.
func (e Environment) String() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	if e.Version != "" {
		return e.Path + " (" + e.Version + ")"
	}
	return e.Path
}
