package kiln

// Version is the library version, overridable at build time via
// -ldflags "-X github.com/aretw0/kiln.Version=...".
var Version = "0.3.0"
