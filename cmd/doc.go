// Package cmd implements the command-line interface for the hkv store.
// Every command opens the configured engine, runs one operation and closes it again,
// so persistent engines (pebble, bolt) keep their data between invocations.
//
// The package is organized into several subpackages:
//
//   - hash: Commands for hash operations (hset, hget, hincrby, hexpire, hscan, hcheck, etc.)
//   - kv: Commands for plain key-value operations and the perf benchmark
//   - rangecmd: Commands that scan or delete key ranges across all data types
//   - dbcmd: Maintenance of the storage engine (dump, load, gc, info) and the top level stats command
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Store flags can also be set through the environment with the HKV_ prefix,
// e.g. HKV_ENGINE=bolt or HKV_DATA_DIR=/var/lib/hkv. A .env file is read if present.
//
// See hkv -help for a list of all commands.
package cmd
