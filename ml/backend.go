// backend.go - Backend-Interface und Registrierung
// Dieses Modul definiert das Backend-Interface und die Backend-Factory-Funktion,
// getrimmt auf das eine sanktionierte "cpu"-Backend (spec §1: GPU-Offload ist
// out of scope; spec §6 beschreibt nur den externen BLAS-Hook als Ausweg).
package ml

import "fmt"

// Backend owns the global context-slot pool (spec §4.3) and is the
// entry point a caller uses to build and run graphs.
type Backend interface {
	// NewContext allocates a fresh arena-backed Context of the
	// backend's default size (envconfig.ContextMemBytes).
	NewContext() Context
	// NewContextSize allocates a Context with an explicit primary
	// region size in bytes.
	NewContextSize(size int) Context

	// Info reports static facts about this backend's execution
	// resources (spec §4.5/§5/§6).
	Info() BackendInfo

	Close()
}

// BackendInfo mirrors the subset of spec §5/§6's environment facts a
// caller might want to inspect without building a graph.
type BackendInfo struct {
	NumThreads           int
	NUMANodes            int
	NUMABalancingWarning bool
}

var backends = make(map[string]func(BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function under name.
// Only "cpu" is ever registered by this repo (spec §1/§6: external
// BLAS/GPU are interface contracts, not shipped backends).
func RegisterBackend(name string, f func(BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered: " + name)
	}
	backends[name] = f
}

// BackendParams controls how a backend allocates its context pool and
// schedules work.
type BackendParams struct {
	// NumThreads sets the executor's worker thread count (spec §4.5).
	// Zero selects envconfig.NumThreads()'s default.
	NumThreads int

	// NUMA enables worker-thread NUMA pinning (spec §4.5).
	NUMA bool

	// ExternalBLAS is the spec §6 escape hatch: "the executor queries,
	// for each MUL_MAT node, whether an external backend can consume
	// the operand pair. If so, it reduces task_count to 1 and
	// delegates to the backend." This repo ships no external BLAS
	// binding (spec §1 places it out of scope as "external
	// collaborator"), so a nil hook always declines and every MUL_MAT
	// runs this engine's own kernel. A caller linking one (cgo MKL,
	// OpenBLAS, an Accelerate shim) supplies this to opt specific
	// operand shapes/types out of the kernel library.
	ExternalBLAS func(a, b DType, m, n, k int) bool
}

// NewBackend creates a new backend instance for the named backend.
func NewBackend(name string, params BackendParams) (Backend, error) {
	f, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("ml: unsupported backend %q", name)
	}
	return f(params)
}
