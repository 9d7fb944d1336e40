// SPDX-License-Identifier: MPL-2.0

// Package types holds small validated value types shared by the toolsmith
// packages: repository references, binary names, filesystem paths and
// process exit codes.
package types
