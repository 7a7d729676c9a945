// device.go - NUMA-Topologie und Thread-Zaehlung
// Dieses Modul enthaelt die Geraete-/Topologieerkennung, die der
// Executor braucht, um Worker-Threads an NUMA-Knoten zu binden (spec
// §4.5/§5). Ersetzt die GPU-Erkennung des Lehrers (device_info.go,
// device_layers.go, device_env.go), die fuer diese Engine out of scope
// ist (spec §1: "GPU offload" ist kein Ziel).
package ml

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// NUMANode describes one NUMA node enumerated from
// /sys/devices/system/node (spec §4.3 init: "NUMA topology (Linux:
// enumerates /sys/devices/system/node/node* and cpu*)").
type NUMANode struct {
	ID   int
	CPUs []int
}

var nodeDirRe = regexp.MustCompile(`^node(\d+)$`)
var cpuDirRe = regexp.MustCompile(`^cpu(\d+)$`)

// DetectNUMATopology enumerates NUMA nodes and their CPU sets on
// Linux. Non-Linux platforms and a failure to list the node directory
// report no nodes at all; a node whose CPU set cannot be read is
// skipped with a warning. Either way this is a safe degradation (spec §4.5
// "When >=2 NUMA nodes are enumerated" — fewer than 2 disables
// pinning entirely).
func DetectNUMATopology() []NUMANode {
	const root = "/sys/devices/system/node"
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var nodes []NUMANode
	for _, e := range entries {
		m := nodeDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		cpus, err := readNodeCPUs(filepath.Join(root, e.Name()))
		if err != nil {
			slog.Warn("ml: failed to read NUMA node cpu set", "node", id, "error", err)
			continue
		}
		nodes = append(nodes, NUMANode{ID: id, CPUs: cpus})
	}
	return nodes
}

func readNodeCPUs(nodeDir string) ([]int, error) {
	entries, err := os.ReadDir(nodeDir)
	if err != nil {
		return nil, err
	}
	var cpus []int
	for _, e := range entries {
		m := cpuDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		cpus = append(cpus, id)
	}
	return cpus, nil
}

// NUMABalancingEnabled probes /proc/sys/kernel/numa_balancing (spec
// §6 Environment: "a warning emitted if non-zero") and reports
// whether the kernel's automatic NUMA balancing is on, which perturbs
// the executor's deliberate pinning.
func NUMABalancingEnabled() bool {
	b, err := os.ReadFile("/proc/sys/kernel/numa_balancing")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) != "0"
}

// WarnIfNUMABalancing logs the spec §6/§4.5 warning when the kernel's
// automatic NUMA balancing is enabled alongside this engine's own
// pinning.
func WarnIfNUMABalancing() {
	if NUMABalancingEnabled() {
		slog.Warn("ml: kernel NUMA balancing is enabled; this can perturb executor timing measurements")
	}
}

// NodeForWorker returns the NUMA node index worker i should be pinned
// to, given nThreads total workers and nNodes enumerated nodes (spec
// §4.5: "worker i is pinned to node i / ceil(n_threads / n_nodes)").
func NodeForWorker(i, nThreads, nNodes int) int {
	if nNodes <= 0 {
		return 0
	}
	perNode := (nThreads + nNodes - 1) / nNodes
	if perNode <= 0 {
		perNode = 1
	}
	node := i / perNode
	if node >= nNodes {
		node = nNodes - 1
	}
	return node
}
