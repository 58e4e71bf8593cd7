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

import "github.com/google/uuid"

// GeneratedIDPrefix namespaces identifiers handed to anonymous 3.1.1
// clients that connect with clean=true and no identifier of their own.
const GeneratedIDPrefix = "mqttx_"

// GenerateClientID returns a fresh identifier: the fixed prefix plus a
// random UUID, unique for all practical purposes across the process
// lifetime.
func GenerateClientID() string {
	return GeneratedIDPrefix + uuid.NewString()
}
