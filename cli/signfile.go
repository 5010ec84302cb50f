package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/havenpoint/leasesign/keys"
	"github.com/havenpoint/leasesign/sign"
)

// SignFileCommand implements the 'sign-file' command. It signs a local
// PDF without touching the renewal store, which is useful for
// verifying identity material before wiring it into a deployment.
func SignFileCommand(args []string) {
	fs := flag.NewFlagSet("sign-file", flag.ExitOnError)

	var (
		certPath   string
		keyPath    string
		pkcs12Path string
		passphrase string
		fieldName  string
		reason     string
		name       string
		location   string
		contact    string
	)
	fs.StringVar(&certPath, "cert", "", "Signing certificate (PEM or DER format)")
	fs.StringVar(&keyPath, "key", "", "Private key for signing (PEM or DER format)")
	fs.StringVar(&pkcs12Path, "pkcs12", "", "PKCS#12 bundle with certificate and key")
	fs.StringVar(&passphrase, "passphrase", "", "Passphrase for the bundle or key")
	fs.StringVar(&fieldName, "field", "Signature1", "Name of the signature field")
	fs.StringVar(&reason, "reason", "", "Reason for signing")
	fs.StringVar(&name, "name", "", "Name of the signatory")
	fs.StringVar(&location, "location", "", "Location of the signatory")
	fs.StringVar(&contact, "contact", "", "Contact information for signatory")

	fs.Usage = func() {
		fmt.Printf("Usage: %s sign-file [options] <input.pdf> <output.pdf>\n\n", os.Args[0])
		fmt.Println("Sign a local PDF file with a digital signature.")
		fmt.Println("")
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign-file -cert cert.pem -key key.pem input.pdf output.pdf\n", os.Args[0])
		fmt.Printf("  %s sign-file -pkcs12 bundle.p12 -passphrase secret input.pdf output.pdf\n", os.Args[0])
	}

	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}
	if fs.NArg() < 2 {
		fs.Usage()
		osExit(1)
	}

	err := signFile(fs.Arg(0), fs.Arg(1), certPath, keyPath, pkcs12Path, passphrase, sign.Options{
		FieldName:   fieldName,
		Reason:      reason,
		Name:        name,
		Location:    location,
		ContactInfo: contact,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	fmt.Printf("Successfully signed PDF: %s\n", fs.Arg(1))
}

func signFile(inputPath, outputPath, certPath, keyPath, pkcs12Path, passphrase string, opts sign.Options) error {
	var identity *keys.Identity
	var err error
	switch {
	case pkcs12Path != "":
		identity, err = keys.LoadIdentityFromPKCS12File(pkcs12Path, passphrase)
	case certPath != "" && keyPath != "":
		var certData, keyData []byte
		certData, err = os.ReadFile(certPath)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		keyData, err = os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
		var pw []byte
		if passphrase != "" {
			pw = []byte(passphrase)
		}
		identity, err = keys.LoadIdentityFromPEM(certData, keyData, pw)
	default:
		return fmt.Errorf("either -pkcs12 or both -cert and -key must be given")
	}
	if err != nil {
		return fmt.Errorf("failed to load signing identity: %w", err)
	}

	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input PDF: %w", err)
	}

	signer := sign.NewIdentitySigner(identity.Certificate, identity.PrivateKey, identity.CAChain)
	signed, err := sign.NewEngine().Sign(input, signer, opts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, signed, 0o644); err != nil {
		return fmt.Errorf("failed to write output PDF: %w", err)
	}
	return nil
}

// VerifyFileCommand implements the 'verify-file' command.
func VerifyFileCommand(args []string) {
	fs := flag.NewFlagSet("verify-file", flag.ExitOnError)

	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Printf("Usage: %s verify-file [options] <document.pdf>\n\n", os.Args[0])
		fmt.Println("Verify the digital signature(s) of a local PDF file.")
		fmt.Println("")
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		osExit(1)
	}

	if err := verifyFile(fs.Arg(0), jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func verifyFile(path string, jsonOutput bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}

	infos, err := sign.Verify(data)
	if err != nil {
		return err
	}

	if jsonOutput {
		type result struct {
			FieldName           string `json:"field_name"`
			Signer              string `json:"signer"`
			CoversWholeDocument bool   `json:"covers_whole_document"`
		}
		results := make([]result, 0, len(infos))
		for _, info := range infos {
			results = append(results, result{
				FieldName:           info.FieldName,
				Signer:              info.Certificate.Subject.CommonName,
				CoversWholeDocument: info.CoversWholeDocument,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	fmt.Printf("Found %d valid signature(s) in %s\n", len(infos), path)
	for _, info := range infos {
		fmt.Printf("  %s\n", info.FieldName)
		fmt.Printf("    signer: %s\n", info.Certificate.Subject.CommonName)
		fmt.Printf("    covers whole document: %v\n", info.CoversWholeDocument)
	}
	return nil
}
