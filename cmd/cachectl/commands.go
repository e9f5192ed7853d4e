package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/pipeline"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry and result counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Cache.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("read cache stats: %w", err)
			}
			return c.print(stats)
		},
	}
}

type clearResult struct {
	Deleted  int64  `json:"deleted"`
	Molecule string `json:"molecule,omitempty"`
}

func newClearCmd(c *cli) *cobra.Command {
	var molecule string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached searches",
		Long: `Delete cached searches for one molecule, or every entry when --molecule
is omitted. Molecule names are matched case-insensitively.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			molecule = strings.TrimSpace(molecule)
			deleted, err := a.Cache.Clear(cmd.Context(), molecule)
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			return c.print(clearResult{Deleted: deleted, Molecule: molecule})
		},
	}
	cmd.Flags().StringVar(&molecule, "molecule", "", "molecule whose cached searches are deleted (default: all)")
	return cmd
}

type searchResult struct {
	Molecule string               `json:"molecule"`
	Count    int                  `json:"count"`
	Results  []domain.AssayRecord `json:"results"`
}

func newSearchCmd(c *cli) *cobra.Command {
	var req pipeline.SearchRequest

	cmd := &cobra.Command{
		Use:   "search <molecule>",
		Short: "Run a compound search through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Molecule = strings.TrimSpace(args[0])
			if req.Molecule == "" {
				return fmt.Errorf("molecule must not be blank")
			}
			if req.MaxResults < 1 {
				return fmt.Errorf("--max-results must be at least 1")
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			records := a.Pipeline.Search(cmd.Context(), req)
			return c.print(searchResult{Molecule: req.Molecule, Count: len(records), Results: records})
		},
	}
	cmd.Flags().StringVar(&req.BioassayFilter, "bioassay", domain.BioassayAny, "assay category filter (Any, Screening, Confirmatory, Summary, Other, Unknown)")
	cmd.Flags().StringVar(&req.TargetClass, "target-class", "", "case-insensitive substring the assay target must contain")
	cmd.Flags().IntVar(&req.MaxResults, "max-results", domain.DefaultMaxResults, "maximum number of records")
	return cmd
}

func newMechanismCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mechanism <name-or-cid>...",
		Short: "Look up the mechanism of action for one or more compounds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				result, err := a.Pipeline.FetchMechanism(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(result)
			}
			return c.print(a.Pipeline.EnrichMechanisms(cmd.Context(), args))
		},
	}
}
