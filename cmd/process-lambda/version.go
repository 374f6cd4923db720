package main

// Build-time version information, set via:
//
//	go build -ldflags="-X main.commitHash=${COMMIT_HASH} -X main.buildTime=$(date -u +%Y%m%dT%H%M%SZ)"
var (
	commitHash = "dev"
	buildTime  = ""
)
