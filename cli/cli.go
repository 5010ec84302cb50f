// Package cli provides the command-line interface for the lease
// renewal signing service.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "create":
		CreateCommand(args)
	case "tenant-sign":
		TenantSignCommand(args)
	case "manager-sign":
		ManagerSignCommand(args)
	case "show":
		ShowCommand(args)
	case "links":
		LinksCommand(args)
	case "sign-file":
		SignFileCommand(args)
	case "verify-file":
		VerifyFileCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("leasesign - lease renewal e-signature tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  create        Start a renewal cycle from an unsigned lease document")
	fmt.Println("  tenant-sign   Apply the tenant signature to a renewal")
	fmt.Println("  manager-sign  Apply the manager countersignature to a renewal")
	fmt.Println("  show          Show a renewal and its audit trail")
	fmt.Println("  links         Issue signed download URLs for a renewal's documents")
	fmt.Println("  sign-file     Sign a local PDF file with a configured identity")
	fmt.Println("  verify-file   Verify the signatures of a local PDF file")
	fmt.Println("  version       Show version information")
	fmt.Println("  help          Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s create -actor <uuid> -org <uuid> -lease <uuid> -tenant <uuid> lease.pdf\n", os.Args[0])
	fmt.Printf("  %s tenant-sign -actor <uuid> <renewal-id>\n", os.Args[0])
	fmt.Printf("  %s verify-file document.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("leasesign version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
