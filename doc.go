// Package conveyor is an e-commerce warehouse ETL pipeline.
//
// Conveyor generates synthetic e-commerce extracts, loads them into a
// PostgreSQL staging schema, validates data quality, transforms staging
// into a cleaned production schema, rebuilds the warehouse star schema,
// and exports analytics extracts. A retrying orchestrator drives the six
// stages in a fixed order and persists an execution report after every
// run.
//
// The main entry point is the conveyor CLI under cmd/conveyor. Each stage
// is also exposed as its own subcommand so stages can be run and rerun
// independently.
package conveyor
