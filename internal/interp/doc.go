// Package interp owns the foreign execution context.
//
// Ownership boundary:
// - the process-wide execution guard
// - the Starlark runtime: predeclared host values, module loading, threads
// - owned references to runtime objects
//
// Every touch of a runtime object (module globals, callables, environment
// dicts, body chunks) happens with the guard held. The only sanctioned
// mid-operation release is Held.Unlocked, used around transport I/O.
package interp
