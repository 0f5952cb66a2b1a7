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

/*
Package exec orchestrates package execution: it parses invocations,
resolves a target version, classifies it, fetches its bundle from a CDN
and runs it in the matching sandbox tier.
*/
package exec

import (
	"strings"

	"sandboxnpm.dev/errs"
)

// Invocation is a parsed execute request.
type Invocation struct {
	// PackageSpec names the package to run, optionally with an inline
	// version ("typescript@^5.0.0").
	PackageSpec string
	// BinaryName is the command to run when it differs from the package
	// name; set when -p/--package was used.
	BinaryName string
	Args       []string
	// AdditionalPackages holds the second and later -p values.
	AdditionalPackages []string
}

// ParseInvocation interprets a command plus raw arguments. Without
// -p/--package the command names the package; with it, the command is the
// binary name and the first -p value names the package.
func ParseInvocation(command string, args []string) (Invocation, error) {
	if command == "" {
		return Invocation{}, errs.New(errs.EVALIDATION, "missing command")
	}
	var packages []string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-p" || a == "--package":
			if i+1 >= len(args) {
				return Invocation{}, errs.Newf(errs.EVALIDATION, "%s requires a value", a)
			}
			packages = append(packages, args[i+1])
			i++
		case strings.HasPrefix(a, "--package="):
			packages = append(packages, a[len("--package="):])
		case strings.HasPrefix(a, "-p="):
			packages = append(packages, a[len("-p="):])
		default:
			rest = append(rest, a)
		}
	}
	if len(packages) == 0 {
		return Invocation{PackageSpec: command, Args: rest}, nil
	}
	inv := Invocation{
		PackageSpec: packages[0],
		BinaryName:  command,
		Args:        rest,
	}
	if len(packages) > 1 {
		inv.AdditionalPackages = packages[1:]
	}
	return inv, nil
}

// SplitSpec splits a package specifier into name and version/range.
// Scoped names keep their leading @: "@scope/pkg@1.2.3" splits into
// "@scope/pkg" and "1.2.3". The version part is empty when absent.
func SplitSpec(spec string) (name, version string) {
	at := strings.LastIndexByte(spec, '@')
	if at <= 0 {
		return spec, ""
	}
	return spec[:at], spec[at+1:]
}

// SplitSubpath separates a trailing subpath from a specifier:
// "pkg/sub/mod" becomes ("pkg", "/sub/mod"); "@scope/pkg/sub" becomes
// ("@scope/pkg", "/sub").
func SplitSubpath(spec string) (name, subpath string) {
	limit := 0
	if strings.HasPrefix(spec, "@") {
		if i := strings.IndexByte(spec, '/'); i >= 0 {
			limit = i + 1
		}
	}
	if i := strings.IndexByte(spec[limit:], '/'); i >= 0 {
		return spec[:limit+i], spec[limit+i:]
	}
	return spec, ""
}
