// Package types provides shared data structures for the greenstash core.
//
// This package defines the types used across all components, ensuring
// type safety and consistent data structures.
//
// Core Types:
//   - SoftwareEntry: Catalog record for a portable application
//   - PendingAddition: In-flight ingestion awaiting an executable choice
//   - DuplicateInfo: Structured description of an ingestion conflict
//   - AddResult: Tagged outcome of an ingestion attempt
//
// State Management:
//   - SoftwareStatus: Entry status enum (managed, unknown install/archive)
//   - AddStatus: Ingestion outcome enum
package types
