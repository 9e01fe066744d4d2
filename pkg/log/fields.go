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

package log

import "go.uber.org/zap"

// String wraps zap.String so callers of this package's wrapper methods
// don't also need to import zap directly for field construction.
func String(key, val string) zap.Field {
	return zap.String(key, val)
}

// Err wraps zap.Error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Component names the subsystem a log line came from.
func Component(name string) zap.Field {
	return zap.String("component", name)
}

// Phase names the shutdown or startup phase a log line belongs to.
func Phase(phase string) zap.Field {
	return zap.String("phase", phase)
}
