// config.go - Haupt-Konfigurationsfunktionen fuer die Engine
//
// Dieses Modul enthaelt:
// - NumThreads: Gibt die Worker-Thread-Anzahl zurueck (GGOE_NUM_THREADS)
// - ContextMemBytes: Gibt die Default-Arena-Groesse zurueck (GGOE_CONTEXT_MEM_BYTES)
// - MaxGraphNodes: Gibt die maximale Knotenzahl eines Graphen zurueck (GGOE_MAX_GRAPH_NODES)
// - NUMAEnabled: Ob NUMA-Affinitaet verwendet werden soll (GGOE_NUMA)
// - Debug: Gibt den Debug-Modus zurueck (GGOE_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags fuer den Executor und die Optimierer
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"runtime"
)

// NumThreads gibt die Anzahl der Worker-Threads zurueck, die der
// Executor fuer eine Graph-Ausfuehrung startet (spec §4.5). Default:
// die Anzahl der logischen CPUs.
// Konfigurierbar via GGOE_NUM_THREADS
func NumThreads() int {
	return int(Uint("GGOE_NUM_THREADS", uint(runtime.NumCPU()))())
}

// ContextMemBytes gibt die Default-Groesse der primaeren Arena-Region
// zurueck, wenn ein Aufrufer keine explizite Groesse angibt (spec §4.3).
// Default: 16 MiB.
// Konfigurierbar via GGOE_CONTEXT_MEM_BYTES
func ContextMemBytes() uint64 {
	return Uint64("GGOE_CONTEXT_MEM_BYTES", 16*1024*1024)()
}

// MaxGraphNodes gibt die maximale Anzahl an Knoten zurueck, die ein
// Ausfuehrungsgraph tragen darf (spec §3 Graph: "ordered array of
// <=N_MAX tensor pointers").
// Konfigurierbar via GGOE_MAX_GRAPH_NODES
func MaxGraphNodes() int {
	return int(Uint("GGOE_MAX_GRAPH_NODES", 4096)())
}

// NUMAEnabled steuert, ob der Executor Worker-Threads an NUMA-Knoten
// bindet (spec §4.5 NUMA affinity). Default: aus, da die meisten
// Entwicklungsmaschinen ein einzelner NUMA-Knoten sind.
// Konfigurierbar via GGOE_NUMA
func NUMAEnabled() bool {
	return Bool("GGOE_NUMA")()
}

// Debug gibt zurueck, ob zusaetzliche Diagnoseausgaben (z.B.
// scratch-Sentinel-Pruefung) aktiviert sind.
// Konfigurierbar via GGOE_DEBUG
func Debug() bool {
	return Bool("GGOE_DEBUG")()
}
