// Command leasesign drives the lease renewal e-signature workflow.
//
// Usage:
//
//	leasesign <command> [options] <args>
//
// Commands:
//
//	create        Start a renewal cycle from an unsigned lease document
//	tenant-sign   Apply the tenant signature to a renewal
//	manager-sign  Apply the manager countersignature to a renewal
//	show          Show a renewal and its audit trail
//	links         Issue signed download URLs for a renewal's documents
//	sign-file     Sign a local PDF file with a configured identity
//	verify-file   Verify the signatures of a local PDF file
//	version       Show version information
//	help          Show help message
//
// Examples:
//
//	# Start a renewal cycle
//	leasesign create -actor <uuid> -org <uuid> -lease <uuid> -tenant <uuid> lease.pdf
//
//	# Apply the tenant signature
//	leasesign tenant-sign -actor <uuid> <renewal-id>
//
//	# Verify a signed document locally
//	leasesign verify-file -json document.pdf
package main

import (
	"os"

	"github.com/havenpoint/leasesign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/leasesign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Set version info
	cli.Version = version
	cli.BuildTime = buildTime

	// Run the CLI
	cli.Run(os.Args)
}
