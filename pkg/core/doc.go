// Package core defines the shared language of the provcat catalog.
//
// This package contains:
//   - Catalog entities (MetadataType, Product, Dataset, Extent)
//   - Bulk ingestion outcomes (BatchStatus)
//   - Typed errors shared by every backend
//   - Resource interfaces and the Index façade every backend implements
//
// The Golden Rule: pkg/core imports only pkg/lineage, pkg/txn, stdlib and the
// id and document decoding libraries. Backends depend on core, not the reverse.
package core
