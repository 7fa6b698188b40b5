// Package ir defines the domain records shared by every parley package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps ir the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Identifiers are opaque strings produced by an IDGenerator
//   - Guideline content is NFC normalized before it is stored or compared
//   - Event offsets are the only ordering key inside a session
//   - All JSON tags use snake_case
package ir
