// Package startup handles configuration loading, environment
// validation, and startup/shutdown logging.
//
// Configuration comes from environment variables with sensible
// defaults. Directory and binary checks run once at boot: a missing
// work directory is fatal, while a missing database directory or
// transcoder binary degrades the corresponding feature instead.
package startup
