//go:build tools

// Package tools tracks tool dependencies invoked through go generate, such
// as mockgen, so go.mod and go.sum keep them pinned.
package tickchat

import (
	_ "go.uber.org/mock/mockgen"
)
