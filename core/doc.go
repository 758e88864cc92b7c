// Package core defines the shared entities and narrow store interfaces the
// processing engine is built from: sessions and their append-only event logs,
// agents, customers, guidelines, journeys, tools, canned responses, glossary
// terms, context variables and capabilities.
//
// The package intentionally contains no orchestration logic. Concrete store
// implementations live in the session and store packages; the engine and its
// subsystems consume only the interfaces declared here.
package core
