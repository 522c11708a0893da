/*
Package config loads and validates the service configuration.

Configuration is environment-first: every knob is an environment variable,
optionally seeded from a .env file in the working directory and optionally
layered over a YAML file passed on the command line. Precedence is

	environment  >  config file  >  built-in default

The result is a frozen Config value built once at boot and handed to
components explicitly. Nothing reads the environment after Load returns.

# Core Components

Config:
  - The complete, validated configuration snapshot
  - Plain exported fields grouped by concern: credentials, pipeline
    shape, storage, indicator rules, safety limits, process surface
  - MaxFileSizeBytes converts the megabyte knob for the listener

Load:
  - godotenv seeds the environment from .env when present
  - viper layers environment over the optional YAML file over defaults
  - CSV lists (channels, IOC rules) are split and trimmed here, once

validate:
  - Joined multi-error; one run reports every problem at once
  - Checks requireds, numeric ranges, and that every CIDR parses as IPv4

# Configuration Reference

Required:

	TELEGRAM_PHONE           account phone number, international format
	TELEGRAM_API_ID          numeric API credential
	TELEGRAM_API_HASH        API credential hash
	TELEGRAM_CHANNELS        CSV of usernames or numeric channel IDs
	STORAGE_PATH             content store root directory
	DATABASE_URL             SQLite path or file: DSN

Optional, with defaults:

	TELEGRAM_PASSWORD        two-step verification password (none)
	WORKER_COUNT             4
	QUEUE_CAPACITY           4 x WORKER_COUNT
	MAX_FILE_SIZE_MB         100; 0 means unlimited
	MAX_DECOMPRESSED_BYTES   2147483648 (2 GiB)
	MAX_DECOMPRESSION_RATIO  100
	DOWNLOAD_MAX_RETRIES     5
	DB_MAX_RETRIES           3
	SCAN_MAX_LINE_BYTES      65536
	IOC_DOMAINS              CSV of domain suffixes (empty)
	IOC_EMAILS               CSV of email domain suffixes (empty)
	IOC_IPV4_CIDRS           CSV of IPv4 CIDRs (empty)
	IOC_RULES_FILE           YAML rules file path (none)
	METRICS_ADDR             :8080
	SHUTDOWN_GRACE           30s
	LOG_LEVEL                info
	LOG_JSON                 true

# Usage

	cfg, err := config.Load(configFile)
	if err != nil {
		// invalid configuration, refuse to start; the error lists
		// every problem, not just the first
	}

A config file covers the same keys in lowercase YAML:

	worker_count: 8
	metrics_addr: ":9100"
	log_level: debug

Environment values still win over the file, so a deployment can override
a checked-in file without editing it.

# Design Patterns

Frozen Snapshot:
  - Load returns a value, not a handle; there is no reload
  - Components receive fields explicitly and cannot observe changes

Fail Loud, Fail Complete:
  - errors.Join collects every validation problem
  - A misconfigured deployment gets one actionable error, not a
    fix-one-rerun loop

Derived Defaults:
  - QUEUE_CAPACITY defaults to a multiple of WORKER_COUNT so scaling
    workers scales the buffer without a second knob

# Integration Points

This package integrates with:

  - cmd/magpie: calls Load before anything else; a validation error is a
    startup failure
  - pkg/supervisor: receives Config and fans values out to components
  - pkg/scanner: IOC_* lists and IOC_RULES_FILE become the scan rule set
  - pkg/archive: MAX_DECOMPRESSED_BYTES and MAX_DECOMPRESSION_RATIO
    bound extraction
  - pkg/log: LOG_LEVEL and LOG_JSON configure the global logger

# See Also

  - pkg/supervisor for how the snapshot is fanned out
  - viper: https://github.com/spf13/viper
  - godotenv: https://github.com/joho/godotenv
*/
package config
