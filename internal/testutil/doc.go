// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Besides environment helpers (MustSetenv, MustUnsetenv, UserHome) it
// builds on-disk subsystem trees (WriteTree) and forge-style tarballs
// (Tarball) shared by the pipeline and CLI tests.
package testutil
