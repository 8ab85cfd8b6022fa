// Package ports defines the interfaces between the kiln core and its
// external collaborators: the kernel transport, the process launcher,
// environment discovery, session persistence and notebook translation.
//
// Adapters under pkg/adapters and internal/adapters implement these
// interfaces; the core depends only on this package.
package ports
