// Package bot defines the domain model shared by the roombot control plane.
//
// A bot is an ephemeral worker (a local process or a remote machine) that runs
// one real-time voice session on behalf of a room. This package holds the
// types every other package speaks in:
//
//   - [Request]: the inputs to a spawn, with [Request.Validate]
//   - [LaunchSpec]: the normalized argument and environment set handed to a backend
//   - [Handle]: the result of a successful spawn and the unit the registry tracks
//   - [Status]: the canonical lifecycle status exposed to callers
//   - [BackendKind]: the closed set of execution backends
//
// # Status Model
//
// Backends report heterogeneous lifecycle vocabularies. They are normalized
// onto [Status] by [StatusFromMachineState] and [StatusFromExit]:
//
//	machine "started"               -> running
//	machine "stopped", "destroyed"  -> stopped
//	machine "failed"                -> error
//	machine anything else           -> unknown
//	process still running           -> running
//	process exit code 0             -> stopped
//	process exit code != 0          -> error
//
// [StatusStopped] and [StatusError] are terminal; every other status may still
// change and is safe to re-poll.
//
// # Errors
//
// The error taxonomy is a mix of sentinels ([ErrValidation], [ErrCapacity],
// [ErrBackendUnavailable], [ErrNotFound], [ErrTransient],
// [ErrStatusUnavailable]) and typed errors carrying detail
// ([ValidationError], [ProcessLaunchError], [RemoteAPIError], [SpawnError]).
// Typed errors unwrap to the matching sentinel so callers can use errors.Is
// at the boundary and errors.As when they need the detail.
package bot
