package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

var (
	tenantFlag string
	depthFlag  int
	limitFlag  int
)

func addQueryCommands(root *cobra.Command) {
	relationshipsCmd := &cobra.Command{
		Use:   "relationships TYPE:ID",
		Short: "Print the edges leaving and entering an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(e *graph.Engine) (any, error) {
				return e.GetEntityRelationships(cmd.Context(), tenantFlag, ref)
			})
		},
	}

	connectedCmd := &cobra.Command{
		Use:   "connected TYPE:ID",
		Short: "Walk the graph breadth-first from an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(e *graph.Engine) (any, error) {
				return e.FindConnectedEntities(cmd.Context(), tenantFlag, ref, depthFlag)
			})
		},
	}
	connectedCmd.Flags().IntVar(&depthFlag, "depth", graph.DefaultMaxDepth, "Deepest level to report")

	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search leads, deals and tasks by title or subtitle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withEngine(cmd, func(e *graph.Engine) (any, error) {
				return e.UnifiedSearch(cmd.Context(), tenantFlag, query, limitFlag)
			})
		},
	}
	searchCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum results (default 20)")

	metricsCmd := &cobra.Command{
		Use:   "metrics TYPE:ID",
		Short: "Print the stored relationship summary of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(e *graph.Engine) (any, error) {
				return e.GetMetrics(cmd.Context(), tenantFlag, ref)
			})
		},
	}

	for _, c := range []*cobra.Command{relationshipsCmd, connectedCmd, searchCmd, metricsCmd} {
		c.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant to query")
		_ = c.MarkFlagRequired("tenant")
		root.AddCommand(c)
	}
}

// withEngine opens the configured backend, runs fn and prints its result as JSON.
func withEngine(cmd *cobra.Command, fn func(*graph.Engine) (any, error)) error {
	b, err := openBackend(cmd.Context(), cfg, log, nil)
	if err != nil {
		return err
	}
	defer b.Close()

	v, err := fn(b.engine)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseRef reads "lead:l1" style references.
func parseRef(s string) (models.EntityRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return models.EntityRef{}, fmt.Errorf("entity must look like TYPE:ID, got %q", s)
	}
	t, err := models.ParseEntityType(typ)
	if err != nil {
		return models.EntityRef{}, err
	}
	return models.EntityRef{Type: t, ID: id}, nil
}
