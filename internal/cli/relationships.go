package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// RelationshipList is the output of relationships list.
type RelationshipList struct {
	Relationships []ir.Relationship `json:"relationships"`
}

// NewRelationshipsCommand creates the relationships command group.
func NewRelationshipsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "Inspect relationships between guidelines",
	}
	cmd.AddCommand(newRelationshipsListCommand(rootOpts))
	return cmd
}

func newRelationshipsListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		q    store.RelationshipQuery
		kind string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List relationships",
		Long: `List relationships, optionally restricted to one kind or endpoint.

With --indirect and exactly one of --source or --target, edges reachable
transitively from the source (or leading to the target) are listed too.

Examples:
  parley relationships list --kind entailment
  parley relationships list --source g-1 --indirect`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			if kind != "" {
				q.Kind = ir.RelationshipKind(kind)
				if !ir.ValidRelationshipKinds[q.Kind] {
					return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("invalid kind %q", kind), nil)
				}
			}

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			rels, err := rt.store.Relationships().ListRelationships(cmd.Context(), q)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list relationships", err)
			}

			return formatter.Render(RelationshipList{Relationships: rels}, "", func(w io.Writer) {
				if len(rels) == 0 {
					fmt.Fprintln(w, "No relationships.")
					return
				}
				for _, r := range rels {
					fmt.Fprintf(w, "%s  %s --%s--> %s\n", r.ID, r.Source.ID, r.Kind, r.Target.ID)
				}
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only this kind (entailment, priority, dependency, disambiguation)")
	cmd.Flags().StringVar(&q.Source, "source", "", "only edges from this guideline id")
	cmd.Flags().StringVar(&q.Target, "target", "", "only edges to this guideline id")
	cmd.Flags().BoolVar(&q.Indirect, "indirect", false, "follow edges transitively")

	return cmd
}
