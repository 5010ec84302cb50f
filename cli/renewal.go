package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/havenpoint/leasesign/renewal"
)

// commonFlags holds flags shared by the renewal commands.
type commonFlags struct {
	ConfigFile string
	Actor      string
}

func registerCommonFlags(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.ConfigFile, "config", "", "Path to the configuration file")
	fs.StringVar(&cf.Actor, "actor", "", "Acting user id (UUID)")
}

func (cf *commonFlags) actor() (renewal.Actor, error) {
	if cf.Actor == "" {
		return renewal.Actor{}, fmt.Errorf("missing required -actor flag")
	}
	id, err := uuid.Parse(cf.Actor)
	if err != nil {
		return renewal.Actor{}, fmt.Errorf("invalid actor id: %w", err)
	}
	return renewal.Actor{ID: id, UserAgent: "leasesign-cli/" + Version}, nil
}

func parseUUIDArg(value, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}

// CreateCommand implements the 'create' command.
func CreateCommand(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)

	var cf commonFlags
	var orgFlag, leaseFlag, tenantFlag string
	registerCommonFlags(fs, &cf)
	fs.StringVar(&orgFlag, "org", "", "Organization id (UUID)")
	fs.StringVar(&leaseFlag, "lease", "", "Lease id (UUID)")
	fs.StringVar(&tenantFlag, "tenant", "", "Tenant user id (UUID)")

	fs.Usage = func() {
		fmt.Printf("Usage: %s create [options] <lease.pdf>\n\n", os.Args[0])
		fmt.Println("Start a renewal cycle from an unsigned lease document.")
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

	if err := runCreate(&cf, orgFlag, leaseFlag, tenantFlag, fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func runCreate(cf *commonFlags, orgFlag, leaseFlag, tenantFlag, documentPath string) error {
	actor, err := cf.actor()
	if err != nil {
		return err
	}
	orgID, err := parseUUIDArg(orgFlag, "org id")
	if err != nil {
		return err
	}
	leaseID, err := parseUUIDArg(leaseFlag, "lease id")
	if err != nil {
		return err
	}
	tenantID, err := parseUUIDArg(tenantFlag, "tenant id")
	if err != nil {
		return err
	}

	document, err := os.ReadFile(documentPath)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cf.ConfigFile)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.svc.Create(ctx, actor, renewal.CreateParams{
		OrgID:    orgID,
		LeaseID:  leaseID,
		TenantID: tenantID,
		Document: document,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created renewal %s\n", r.ID)
	fmt.Printf("  status:   %s\n", r.Status)
	fmt.Printf("  document: %s\n", r.UnsignedPath)
	return nil
}

// TenantSignCommand implements the 'tenant-sign' command.
func TenantSignCommand(args []string) {
	runSignCommand(args, "tenant-sign", "Apply the tenant signature to a renewal.",
		func(ctx context.Context, a *app, actor renewal.Actor, id uuid.UUID) (*renewal.Renewal, error) {
			return a.svc.TenantSign(ctx, actor, id)
		})
}

// ManagerSignCommand implements the 'manager-sign' command.
func ManagerSignCommand(args []string) {
	runSignCommand(args, "manager-sign", "Apply the manager countersignature to a renewal.",
		func(ctx context.Context, a *app, actor renewal.Actor, id uuid.UUID) (*renewal.Renewal, error) {
			return a.svc.ManagerSign(ctx, actor, id)
		})
}

func runSignCommand(
	args []string,
	name, description string,
	transition func(context.Context, *app, renewal.Actor, uuid.UUID) (*renewal.Renewal, error),
) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)

	var cf commonFlags
	registerCommonFlags(fs, &cf)

	fs.Usage = func() {
		fmt.Printf("Usage: %s %s [options] <renewal-id>\n\n", os.Args[0], name)
		fmt.Println(description)
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

	err := func() error {
		actor, err := cf.actor()
		if err != nil {
			return err
		}
		renewalID, err := parseUUIDArg(fs.Arg(0), "renewal id")
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := buildApp(ctx, cf.ConfigFile)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := transition(ctx, a, actor, renewalID)
		if err != nil {
			return err
		}

		fmt.Printf("Renewal %s is now %s\n", r.ID, r.Status)
		return nil
	}()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// ShowCommand implements the 'show' command.
func ShowCommand(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)

	var cf commonFlags
	var jsonOutput bool
	registerCommonFlags(fs, &cf)
	fs.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Printf("Usage: %s show [options] <renewal-id>\n\n", os.Args[0])
		fmt.Println("Show a renewal and its audit trail.")
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

	if err := runShow(&cf, fs.Arg(0), jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func runShow(cf *commonFlags, idArg string, jsonOutput bool) error {
	actor, err := cf.actor()
	if err != nil {
		return err
	}
	renewalID, err := parseUUIDArg(idArg, "renewal id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cf.ConfigFile)
	if err != nil {
		return err
	}
	defer a.Close()

	got, err := a.svc.Get(ctx, actor, renewalID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(got)
	}

	r := got.Renewal
	fmt.Printf("Renewal %s\n", r.ID)
	fmt.Printf("  org:      %s\n", r.OrgID)
	fmt.Printf("  lease:    %s\n", r.LeaseID)
	fmt.Printf("  tenant:   %s\n", r.TenantID)
	fmt.Printf("  status:   %s\n", r.Status)
	fmt.Printf("  unsigned: %s\n", r.UnsignedPath)
	if r.TenantSignedPath != nil {
		fmt.Printf("  tenant-signed: %s\n", *r.TenantSignedPath)
	}
	if r.FullySignedPath != nil {
		fmt.Printf("  fully-signed:  %s\n", *r.FullySignedPath)
	}
	fmt.Printf("  created:  %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  updated:  %s\n", r.UpdatedAt.Format(time.RFC3339))

	fmt.Println("Events:")
	for _, e := range got.Events {
		actor := "-"
		if e.ActorID != nil {
			actor = e.ActorID.String()
		}
		fmt.Printf("  %s  %-20s  actor=%s\n", e.CreatedAt.Format(time.RFC3339), e.Action, actor)
	}
	return nil
}

// LinksCommand implements the 'links' command.
func LinksCommand(args []string) {
	fs := flag.NewFlagSet("links", flag.ExitOnError)

	var cf commonFlags
	var ttl time.Duration
	registerCommonFlags(fs, &cf)
	fs.DurationVar(&ttl, "ttl", 0, "Link lifetime (default from configuration)")

	fs.Usage = func() {
		fmt.Printf("Usage: %s links [options] <renewal-id>\n\n", os.Args[0])
		fmt.Println("Issue signed download URLs for a renewal's documents.")
		fmt.Println("Stages not yet produced are omitted.")
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

	if err := runLinks(&cf, fs.Arg(0), ttl); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func runLinks(cf *commonFlags, idArg string, ttl time.Duration) error {
	actor, err := cf.actor()
	if err != nil {
		return err
	}
	renewalID, err := parseUUIDArg(idArg, "renewal id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cf.ConfigFile)
	if err != nil {
		return err
	}
	defer a.Close()

	links, err := a.svc.DownloadLinks(ctx, actor, renewalID, ttl)
	if err != nil {
		return err
	}

	fmt.Printf("Links expire in %s\n", links.ExpiresIn)
	fmt.Printf("  unsigned:      %s\n", links.Unsigned)
	if links.TenantSigned != "" {
		fmt.Printf("  tenant-signed: %s\n", links.TenantSigned)
	}
	if links.FullySigned != "" {
		fmt.Printf("  fully-signed:  %s\n", links.FullySigned)
	}
	return nil
}
