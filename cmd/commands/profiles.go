package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/swarm/internal/service"
)

// NewProfilesCommand returns the profiles subcommand.
func NewProfilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "Manage MCP server profiles",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List profiles",
				Action: runProfilesList,
			},
			{
				Name:      "show",
				Usage:     "Show a profile",
				ArgsUsage: "<profile_id>",
				Action:    runProfilesShow,
			},
			{
				Name:  "create",
				Usage: "Create a profile from a YAML file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Profile definition (name, servers)"},
				},
				Action: runProfilesCreate,
			},
			{
				Name:      "delete",
				Usage:     "Delete a profile",
				ArgsUsage: "<profile_id>",
				Action:    runProfilesDelete,
			},
		},
		DefaultCommand: "list",
	}
}

func runProfilesList(ctx context.Context, cmd *cli.Command) error {
	list, err := newClient(cmd).ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No profiles found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSERVERS")
	for _, p := range list {
		names := make([]string, 0, len(p.Servers))
		for name := range p.Servers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, strings.Join(names, ", "))
	}
	return w.Flush()
}

func runProfilesShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: swarm profiles show <profile_id>")
	}
	p, err := newClient(cmd).GetProfile(ctx, id)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	fmt.Printf("ID:      %s\n", p.ID)
	fmt.Printf("Name:    %s\n", p.Name)
	fmt.Printf("Created: %s\n\n", p.CreatedAt.Local().Format(timeFormat))
	out, err := yaml.Marshal(map[string]any{"servers": p.Servers})
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runProfilesCreate(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("file"))
	if err != nil {
		return err
	}
	var in service.CreateProfileInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	p, err := newClient(cmd).CreateProfile(ctx, in)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	fmt.Printf("Profile %s created (%s).\n", p.Name, p.ID)
	return nil
}

func runProfilesDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: swarm profiles delete <profile_id>")
	}
	if err := newClient(cmd).DeleteProfile(ctx, id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	fmt.Printf("Profile %s deleted.\n", id)
	return nil
}
