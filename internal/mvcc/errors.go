// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mvcc

import "errors"

var (
	// ErrKeyNotFound is returned when a key is not found in the store.
	ErrKeyNotFound = errors.New("mvcc: key not found")

	// ErrRevisionNotFound is returned when a revision has no matching
	// entry in the index at all (as opposed to being tombstoned).
	ErrRevisionNotFound = errors.New("mvcc: revision not found")

	// ErrInvalidData is returned when a payload cannot be decoded.
	ErrInvalidData = errors.New("mvcc: invalid data format")

	// ErrEmptyKey is returned when an empty key is supplied where one is required.
	ErrEmptyKey = errors.New("mvcc: empty key is not allowed")
)

// InvalidCommandError reports a request that is semantically malformed given
// the current state of the store. It is a normal error returned to the
// caller; the proposal it belongs to still commits as a no-op for that
// request.
type InvalidCommandError struct {
	Reason string
}

func (e *InvalidCommandError) Error() string {
	return "mvcc: invalid command: " + e.Reason
}

// NewInvalidCommandError builds an InvalidCommandError with the given reason.
func NewInvalidCommandError(reason string) error {
	return &InvalidCommandError{Reason: reason}
}

// IsInvalidCommand reports whether err is (or wraps) an InvalidCommandError.
func IsInvalidCommand(err error) bool {
	var ice *InvalidCommandError
	return errors.As(err, &ice)
}

// DecodeError reports a payload, persisted or received over the wire, that
// failed to parse. It is fatal to the request that carried the payload but
// does not corrupt store state.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "mvcc: decode error: " + e.Reason
}

// InvariantViolation is raised via panic when the engine observes state that
// should be provably impossible: a SpeculativePool miss at commit time, a
// duplicate coordinate insert into VersionedStore, or a non-monotonic
// revision. It is fail-stop: the process must not continue serving requests
// after one, since doing so risks divergence across replicas. Callers
// recover it only to log and re-panic/exit, never to keep serving requests.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "mvcc: invariant violation: " + e.Reason
}

// PanicInvariant raises an InvariantViolation. It never returns.
func PanicInvariant(reason string) {
	panic(&InvariantViolation{Reason: reason})
}
