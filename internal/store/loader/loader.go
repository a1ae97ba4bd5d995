// Package loader registers store drivers via blank imports.
//
// Usage in main.go:
//
//	import _ "github.com/openledger/invitegate/internal/store/loader"
package loader

import (
	// Register the memory store driver
	_ "github.com/openledger/invitegate/internal/store/memory"

	// Register the sqlite store driver
	_ "github.com/openledger/invitegate/internal/store/sqlite"
)
