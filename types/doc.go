// Package types provides core types used across the loom framework.
// This package has ZERO dependencies on other loom packages to avoid
// circular imports. All other packages should import types from here.
package types
