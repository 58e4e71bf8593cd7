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

package auth

import (
	"github.com/turtacn/mqttx-go/pkg/admission"
	"github.com/turtacn/mqttx-go/pkg/session"
)

// Hook adapts a Chain to the admission machine's authorization contract.
// The chain runs synchronously; the verdict is delivered through done like
// any other hook completion.
func Hook(chain *Chain) admission.Hook {
	return func(client *session.Client, done func(err error, permitted bool)) {
		result := chain.Authenticate(client.Username, string(client.Password))
		done(nil, result == Success)
	}
}
