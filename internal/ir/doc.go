// Package ir holds the compiled representation of form definitions.
//
// The compiler turns CUE documents into DocumentSpec values; the engine
// instantiates them. ir imports nothing internal, so every other package
// can depend on it without cycles.
//
// Constraints:
//   - No floats. Decimal quantities travel as strings and are parsed by
//     internal/numeric with explicit precision.
//   - All JSON tags use snake_case.
//   - Request signatures and definition hashes use RFC 8785 canonical JSON.
package ir
