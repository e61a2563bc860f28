// Package vm implements the protovm execution core.
//
// This package contains:
//   - NaN-boxed value representation
//   - A generational moving heap with a write barrier and an old-to-young
//     remembered set
//   - Shapes (hidden classes) with transition trees and dictionary mode
//   - Inline caches for property access and calls
//   - Closures over heap-allocated environments
//   - A register-based bytecode interpreter with exception handler
//     tables, finally blocks and generators
//   - The host ABI: handles, natives, errors and cooperative interruption
//   - Heap introspection: live-object enumeration, snapshots, an inspector
package vm
