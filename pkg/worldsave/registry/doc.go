// Package registry provides a generic thread-safe registry and the class
// registry used to re-create runtime entities on load.
//
// # Basic Usage
//
//	r := registry.New[string, int]()
//	r.Register("one", 1)
//	value, ok := r.Get("one")
//
// # Class Resolution
//
// Records for runtime-spawned entities store the class path they were
// created from. On load the path is resolved through Classes, which falls
// back to a redirect table when a class was renamed:
//
//	classes := registry.NewClasses()
//	classes.Register("/Game/Items/Crate")
//	classes.Redirect("/Game/Old/Crate", "/Game/Items/Crate")
//
//	path, err := classes.Resolve("/Game/Old/Crate") // "/Game/Items/Crate"
//
// # Thread Safety
//
// All methods are safe for concurrent use. Range iterates over a snapshot,
// so the callback may mutate the registry.
package registry
