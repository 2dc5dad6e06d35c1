// Package testutil provides builders, mocks and helpers shared by the
// command tests.
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// TestStarCount is a typical star count for test repositories
	TestStarCount = 100
)

// Common test strings
const (
	TestDescription = "Test repository for unit tests"
	TestLanguage    = "Go"
)
