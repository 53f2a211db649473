// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and merged updates with reload listeners
//   - A JSON options file loader and an fsnotify-driven file watcher
//   - Counters and gauges for connection metrics
//   - Debug hook registration and state export
package control
