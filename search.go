package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"FedSearch/internal/category"
	"FedSearch/internal/search"
	"FedSearch/internal/searcherr"
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run one aggregated search and print the JSON response",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "category",
				Usage: "general, images or videos",
				Value: string(category.General),
			},
			&cli.BoolFlag{
				Name:  "safe",
				Usage: "Ask instances for safe-search results",
			},
		},
		Action: runSearch,
	}
}

func runSearch(ctx context.Context, c *cli.Command) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a query is required")
	}
	cat, err := category.Parse(c.String("category"))
	if err != nil {
		return err
	}

	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.service.Search(ctx, search.Query{Text: query, Category: cat, Safe: c.Bool("safe")})
	if errors.Is(err, searcherr.ErrNoResultsFound) {
		return fmt.Errorf("no results found for %q", query)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Response)
}
