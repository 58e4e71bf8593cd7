// Copyright 2026 The mqttx-go Authors
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

package admission

import "github.com/turtacn/mqttx-go/pkg/session"

// Hook is the pluggable authorization contract. It receives the client of
// a handshake attempt (connecting, not yet connected, resolved address
// attached) and must call done exactly once, synchronously or later, with
// the verdict: a non-nil error or permitted=false aborts the admission.
//
// The machine guards done against double invocation, and discards verdicts
// from attempts that have since been superseded.
type Hook func(client *session.Client, done func(err error, permitted bool))

// AllowAll is the default hook: every well-formed CONNECT is admitted.
func AllowAll(client *session.Client, done func(err error, permitted bool)) {
	done(nil, true)
}
