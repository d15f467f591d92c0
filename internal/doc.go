// Package internal contains the core implementation packages for viewmill.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the viewmill CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - assets: Embedded default pages and the builtin status markup
//   - backend: Compilation back-ends, one per template language
//   - config: Configuration management with validation
//   - errors: Error taxonomy, diagnostics, and the error collector
//   - executor: Render entry points with engine probing and fallbacks
//   - logging: Structured logging shared by every package
//   - page: Page entries with lazy recompilation and failure isolation
//   - registry: Virtual path discovery and the four page tables
//   - server: HTTP server, WebSocket reload hub, and output cache
//   - version: Build metadata injected at link time
//   - vfs: Layered virtual file system over OS and embedded sources
//   - watcher: File system monitoring with debouncing
//
// # Inter-Package Communication
//
// Packages communicate through well-defined seams:
//
//   - The registry owns the page tables and drives discovery through vfs
//   - Back-ends compile sources into renderers held by page entries
//   - The executor resolves names against the registry and probes engines
//   - The server answers requests through the executor and relays watcher
//     events to connected browsers
//
// # Security Considerations
//
// Security is implemented at a few fixed points:
//
//   - Config package validates all configuration inputs
//   - Server package validates WebSocket origins before upgrading
//   - Registry anchors every lookup below the source root so request
//     paths cannot traverse out of the project
//
// For detailed documentation, see the individual package documentation.
package internal
