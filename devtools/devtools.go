// Package devtools exposes a "devtools" group for inspecting a running server.
//
//	reg := dynvoke.NewRegistry()
//	devtools.Register(reg)
//
// The group answers devtools.ping, devtools.info and devtools.status.
package devtools

import (
	"runtime"

	"github.com/broady/dynvoke"
)

// Group is the group name the actions are registered under.
const Group = "devtools"

// PingResponse is the result of devtools.ping.
type PingResponse struct {
	OK bool `json:"ok"`
}

// InfoResponse provides runtime information about the server.
type InfoResponse struct {
	Version       string      `json:"version"`
	NumGoroutines int         `json:"num_goroutines"`
	NumCPU        int         `json:"num_cpu"`
	Memory        MemoryStats `json:"memory"`
}

// MemoryStats contains memory statistics.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// StatusResponse lists every registered action.
type StatusResponse struct {
	OK bool `json:"ok"`
	// Groups maps group names to their action names, sorted.
	Groups map[string][]string `json:"groups"`
	// Params maps "group.action" to the parameter names callers send.
	Params map[string][]string `json:"params"`
}

// Register adds the devtools actions to reg. Status reports the targets
// of reg itself, so it must be called before reg is built.
func Register(reg *dynvoke.Registry) {
	reg.Group(Group).
		Action("ping", Ping).
		Action("info", Info).
		Action("status", func() StatusResponse { return Status(reg) })
}

// Ping is a health check.
func Ping() PingResponse {
	return PingResponse{OK: true}
}

// Info returns runtime information about the process.
func Info() InfoResponse {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return InfoResponse{
		Version:       runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
}

// Status returns the targets of a built registry.
func Status(reg *dynvoke.Registry) StatusResponse {
	resp := StatusResponse{
		OK:     reg.Built(),
		Groups: make(map[string][]string),
		Params: make(map[string][]string),
	}
	for _, t := range reg.Targets() {
		resp.Groups[t.Group()] = append(resp.Groups[t.Group()], t.Action())
		names := make([]string, 0, len(t.External()))
		for _, p := range t.External() {
			names = append(names, p.Name)
		}
		resp.Params[t.Key()] = names
	}
	return resp
}
