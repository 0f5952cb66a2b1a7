// Copyright 2023 Google LLC
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

package exec

import "sandboxnpm.dev/errs"

// ValidateNamespace checks a tenant namespace identifier. Valid
// identifiers match [A-Za-z0-9_-]{1,64}; anything else — including every
// encoding of path traversal, control characters and non-ASCII input —
// is an EVALIDATION failure and must never reach storage or URLs.
func ValidateNamespace(id string) error {
	if id == "" {
		return errs.New(errs.EVALIDATION, "namespace must not be empty")
	}
	if len(id) > 64 {
		return errs.Newf(errs.EVALIDATION, "namespace exceeds 64 characters").With("path", id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '-':
		default:
			return errs.Newf(errs.EVALIDATION, "namespace contains forbidden byte %q", c)
		}
	}
	return nil
}
