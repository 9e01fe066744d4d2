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

// Package reliability recovers panics at goroutine boundaries. Unlike a
// typical server's panic recovery, it never restarts the goroutine it
// guards: a panic out of the engine's driver loop or the watch fanout's
// dispatcher means an invariant the rest of the process depends on no
// longer holds, and the only safe response is to stop the process before
// it can serve another request against corrupted state.
package reliability

import (
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
)

// exitFunc is swapped in tests so RecoverFailStop's exit path can be
// exercised without killing the test binary.
var exitFunc = os.Exit

// RecoverFailStop recovers a panic in the calling goroutine, logs it with
// its stack trace under component, and terminates the process. It must be
// called via defer at the top of any goroutine whose state the rest of the
// process trusts unconditionally, such as the engine driver loop or the
// watch fanout dispatcher.
func RecoverFailStop(log *zap.Logger, component string) {
	if r := recover(); r != nil {
		if log == nil {
			log = zap.NewNop()
		}
		log.Error("fail-stop: invariant violation, terminating process",
			zap.String("component", component),
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.ByteString("stack", debug.Stack()),
		)
		exitFunc(1)
	}
}

// SafeGo runs fn in a new goroutine guarded by RecoverFailStop. It does not
// restart fn: a caller that needs its goroutine kept alive across failures
// should not use this for invariant-bearing work.
func SafeGo(log *zap.Logger, component string, fn func()) {
	go func() {
		defer RecoverFailStop(log, component)
		fn()
	}()
}
