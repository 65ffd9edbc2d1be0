// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli implements the dbcopier command line with Cobra. Commands load
// settings, open the store and then delegate to the core service; no copy
// logic lives here.
package cli
