package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/knowledge"
)

// NewKnowledgeCommand returns the knowledge subcommand.
func NewKnowledgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "knowledge",
		Usage: "Browse and curate learned knowledge entries",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List entries",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "active, draft or deprecated"},
					&cli.StringFlag{Name: "tag", Usage: "Only entries with this tag"},
					&cli.StringFlag{Name: "sort", Value: string(knowledge.SortRating), Usage: "rating, date or title"},
				},
				Action: runKnowledgeList,
			},
			{
				Name:      "show",
				Usage:     "Show an entry and its prompt",
				ArgsUsage: "<id>",
				Action:    runKnowledgeShow,
			},
			{
				Name:      "rate",
				Usage:     "Rate an entry from 1 to 5",
				ArgsUsage: "<id> <score>",
				Action:    runKnowledgeRate,
			},
			{
				Name:      "deprecate",
				Usage:     "Stop offering an entry as context",
				ArgsUsage: "<id>",
				Action:    runKnowledgeDeprecate,
			},
			{
				Name:      "delete",
				Usage:     "Delete an entry",
				ArgsUsage: "<id>",
				Action:    runKnowledgeDelete,
			},
		},
		DefaultCommand: "list",
	}
}

func runKnowledgeList(ctx context.Context, cmd *cli.Command) error {
	list, err := newClient(cmd).ListKnowledge(ctx, knowledge.ListFilter{
		Status: knowledge.Status(cmd.String("status")),
		Tag:    cmd.String("tag"),
		Sort:   knowledge.Sort(cmd.String("sort")),
	})
	if err != nil {
		return fmt.Errorf("list knowledge: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No knowledge entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRATING\tSOURCE\tTAGS")
	for _, e := range list {
		rating := "-"
		if e.Rating.Count > 0 {
			rating = fmt.Sprintf("%.1f (%d)", e.Rating.Average, e.Rating.Count)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Status, rating, e.Source, strings.Join(e.Tags, ","))
	}
	return w.Flush()
}

func runKnowledgeShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: swarm knowledge show <id>")
	}
	c := newClient(cmd)
	e, err := c.GetKnowledge(ctx, id)
	if err != nil {
		return err
	}
	prompt, err := c.KnowledgePrompt(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", e.ID)
	fmt.Printf("Title:       %s\n", e.Title)
	fmt.Printf("Status:      %s\n", e.Status)
	fmt.Printf("Source:      %s\n", e.Source)
	if e.OriginTaskID != "" {
		fmt.Printf("Origin task: %s\n", e.OriginTaskID)
	}
	if e.Category != "" {
		fmt.Printf("Category:    %s\n", e.Category)
	}
	fmt.Printf("Rating:      %.1f (%d votes)\n", e.Rating.Average, e.Rating.Count)
	fmt.Printf("Folder:      %s\n", e.Path)
	fmt.Printf("\n%s\n\nPrompt:\n%s\n", e.Description, prompt)
	return nil
}

func runKnowledgeRate(ctx context.Context, cmd *cli.Command) error {
	id, raw := cmd.Args().Get(0), cmd.Args().Get(1)
	score, err := strconv.Atoi(raw)
	if id == "" || err != nil {
		return fmt.Errorf("usage: swarm knowledge rate <id> <1-5>")
	}
	r, err := newClient(cmd).RateKnowledge(ctx, id, score)
	if err != nil {
		return err
	}
	fmt.Printf("%s rated %.1f (%d votes)\n", id, r.Average, r.Count)
	return nil
}

func runKnowledgeDeprecate(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: swarm knowledge deprecate <id>")
	}
	status := knowledge.StatusDeprecated
	if _, err := newClient(cmd).UpdateKnowledge(ctx, id, knowledge.UpdateInput{Status: &status}); err != nil {
		return err
	}
	fmt.Printf("%s deprecated\n", id)
	return nil
}

func runKnowledgeDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: swarm knowledge delete <id>")
	}
	if err := newClient(cmd).DeleteKnowledge(ctx, id); err != nil {
		return err
	}
	fmt.Printf("%s deleted\n", id)
	return nil
}
