// config_features.go - Feature-Flags fuer Executor und Optimierer
//
// Dieses Modul enthaelt Schalter, die das Ausfuehrungsverhalten
// beeinflussen, ohne die oeffentliche API zu veraendern.
package envconfig

// =============================================================================
// Executor-Flags
// =============================================================================

var (
	// ExternalBLAS liest GGOE_EXTERNAL_BLAS (spec §6 "External
	// BLAS/GPU hooks"). Der Wert wird nur von AsMap gemeldet; der
	// Executor liest ihn nicht, er fragt den Hook
	// ml.BackendParams.ExternalBLAS ab, sobald dieser gesetzt ist.
	ExternalBLAS = Bool("GGOE_EXTERNAL_BLAS")

	// ScratchSentinel fuellt die Scratch-Region vor jeder COMPUTE-Phase
	// mit einem Sentinel-Byte, um Kernel-Over-Reads in Debug-Builds zu
	// erkennen (spec §9 "a debug build should fill scratch with a
	// sentinel before each COMPUTE").
	ScratchSentinel = BoolWithDefault("GGOE_SCRATCH_SENTINEL")
)

// =============================================================================
// Optimierer-Flags
// =============================================================================

var (
	// OptimizerPast setzt die Groesse des Ringpuffers vergangener
	// Verlustwerte, gegen den die Konvergenzpruefung eine rollierende
	// Differenz bildet (spec §4.6).
	OptimizerPast = Uint("GGOE_OPTIMIZER_PAST", 0)
)
