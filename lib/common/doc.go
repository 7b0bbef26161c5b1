// Package common contains the configuration and logging shared by the hkv
// libraries and the command line tool.
//
// Logging:
//
//	All packages obtain their logger with logger.GetLogger from
//	github.com/lni/dragonboat/v4/logger. InitLoggers replaces the default
//	factory with one that writes lines of the form
//
//	  2024/01/02 15:04:05 WARN  | hstore          | repaired meta of "user:1"
//
//	and sets the level of every logger listed in LoggerNames.
//
// Configuration:
//
//	StoreConfig selects the substrate and its parameters. The command line
//	tool fills it from flags, HKV_* environment variables and .env files.
package common
