/*
Package types provides the core interfaces and data structures shared across levelfs.

# Architecture Overview

levelfs follows a layered architecture with well-defined interfaces between components:

	┌─────────────────────────────────────────────┐
	│              FUSE Interface                 │
	│         (cmd/levelfs, internal/fuse)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Driver Dispatcher              │
	│             (internal/driver)               │
	└─────────────────────────────────────────────┘
	          │                 │
	┌─────────┴─────────┐ ┌─────┴──────┐
	│  Backend Adapter  │ │  Metrics   │
	│ (internal/backend)│ │            │
	└───────────────────┘ └────────────┘
	          │
	┌─────────┴─────────────────────────┐
	│ Store (internal/storage/badger|s3)│
	└───────────────────────────────────┘

# Core Interfaces

Store abstracts a sorted key-value store with single-key get, put and delete
plus bounded ordered key iteration under a prefix. Absent keys are reported
with ErrKeyNotFound so callers can tell them apart from store failures.

MetricsCollector receives per-operation observations from the driver.
NopMetrics is used when metrics are disabled.

# Data Structures

Attr and DirEntry carry the synthesized stat and listing information that the
FUSE layer converts into kernel structures. EntryKind distinguishes
directories, which are virtual, from files, which are stored keys.
*/
package types
