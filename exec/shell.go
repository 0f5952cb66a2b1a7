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

import "strings"

// ShellQuote renders one argument safe for a POSIX shell. Arguments made
// only of unambiguous bytes pass through verbatim; everything else is
// single-quoted, with embedded single quotes rewritten as '"'"'. The
// empty string encodes as ''.
func ShellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	if isPlain(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// ShellJoin quotes every argument and joins them into a single command
// string. This is the only sanctioned way to build a shell command; no
// caller may concatenate unescaped arguments.
func ShellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func isPlain(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.', c == '/', c == ':', c == '=', c == '@':
		default:
			return false
		}
	}
	return true
}
