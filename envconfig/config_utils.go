// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - Var: liest eine Umgebungsvariable (Testpunkt fuer Mocking)
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap/Values: Export aller Konfigurationswerte
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Var reads an environment variable by name. Factored out of every
// getter below so tests can substitute a lookup function if needed.
func Var(key string) string {
	return os.Getenv(key)
}

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck, Namen, aktuelle
// Werte und Beschreibungen.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GGOE_NUM_THREADS":         {"GGOE_NUM_THREADS", NumThreads(), "Number of executor worker threads (default: NumCPU)"},
		"GGOE_CONTEXT_MEM_BYTES":   {"GGOE_CONTEXT_MEM_BYTES", ContextMemBytes(), "Default primary arena region size in bytes"},
		"GGOE_MAX_GRAPH_NODES":     {"GGOE_MAX_GRAPH_NODES", MaxGraphNodes(), "Maximum nodes an execution graph may hold"},
		"GGOE_NUMA":                {"GGOE_NUMA", NUMAEnabled(), "Pin worker threads to NUMA nodes"},
		"GGOE_DEBUG":               {"GGOE_DEBUG", Debug(), "Enable additional diagnostic output"},
		"GGOE_EXTERNAL_BLAS":       {"GGOE_EXTERNAL_BLAS", ExternalBLAS(), "Reported only; the executor does not read it"},
		"GGOE_SCRATCH_SENTINEL":    {"GGOE_SCRATCH_SENTINEL", ScratchSentinel(Debug()), "Fill scratch with a sentinel before each COMPUTE (default: GGOE_DEBUG)"},
		"GGOE_OPTIMIZER_PAST":      {"GGOE_OPTIMIZER_PAST", OptimizerPast(), "Rolling window size for optimizer convergence checks"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
