package main

// Set via -ldflags at release build time; left as defaults for local builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
