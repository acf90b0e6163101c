// Package backend defines the contract between the orchestrator and the
// execution substrates that run bot workers.
//
// An [Adapter] launches a worker from a [bot.LaunchSpec] and later answers
// liveness queries for the id it returned. Adapters never retry a launch:
// creating a process or machine is not idempotent.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Iron-Ham/roombot/internal/bot"
)

// ErrNotFound is returned by Query when the adapter has no record of the id.
var ErrNotFound = errors.New("worker not known to backend")

// Adapter is implemented by each execution backend.
type Adapter interface {
	// Kind identifies the backend.
	Kind() bot.BackendKind

	// Launch starts a worker and returns its identifier. Backends that
	// assign their own ids return those; others return spec.ProvisionalID.
	Launch(ctx context.Context, spec bot.LaunchSpec) (string, error)

	// Query reports the canonical status of a launched worker. It returns
	// ErrNotFound for unknown ids and an error wrapping bot.ErrTransient when
	// the backend could not be reached.
	Query(ctx context.Context, id string) (bot.Status, error)
}

// Set maps each configured backend kind to its adapter. Kinds without an
// adapter are unavailable.
type Set map[bot.BackendKind]Adapter

// NewSet builds a Set from adapters, rejecting duplicate kinds. Nil adapters
// are skipped.
func NewSet(adapters ...Adapter) (Set, error) {
	s := make(Set, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, dup := s[a.Kind()]; dup {
			return nil, fmt.Errorf("duplicate adapter for %s backend", a.Kind())
		}
		s[a.Kind()] = a
	}
	return s, nil
}

// Get returns the adapter for kind, or an error wrapping
// bot.ErrBackendUnavailable.
func (s Set) Get(kind bot.BackendKind) (Adapter, error) {
	a, ok := s[kind]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: %s backend is not configured", bot.ErrBackendUnavailable, kind)
	}
	return a, nil
}

// Kinds returns the configured kinds in declaration order.
func (s Set) Kinds() []bot.BackendKind {
	var kinds []bot.BackendKind
	for _, k := range bot.BackendKinds() {
		if _, ok := s[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Close shuts down every adapter that holds resources, returning the joined
// errors.
func (s Set) Close(ctx context.Context) error {
	var errs []error
	for _, k := range s.Kinds() {
		switch a := s[k].(type) {
		case interface{ Close(context.Context) error }:
			errs = append(errs, a.Close(ctx))
		case io.Closer:
			errs = append(errs, a.Close())
		}
	}
	return errors.Join(errs...)
}
