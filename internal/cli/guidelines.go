package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/parley/internal/compiler"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// ValidationResult holds batch validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// AppliedBatch is the outcome of applying one batch file.
type AppliedBatch struct {
	File       string           `json:"file"`
	Guidelines []ir.GuidelineID `json:"guidelines"`
}

// NewGuidelinesCommand creates the guidelines command group.
func NewGuidelinesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guidelines",
		Short: "Apply, inspect and remove guidelines",
	}

	cmd.AddCommand(newGuidelinesApplyCommand(rootOpts))
	cmd.AddCommand(newGuidelinesValidateCommand(rootOpts))
	cmd.AddCommand(newGuidelinesListCommand(rootOpts))
	cmd.AddCommand(newGuidelinesDeleteCommand(rootOpts))
	cmd.AddCommand(newGuidelinesEnableCommand(rootOpts, true))
	cmd.AddCommand(newGuidelinesEnableCommand(rootOpts, false))

	return cmd
}

func newGuidelinesApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <batch-file>...",
		Short: "Apply guideline batch files",
		Long: `Create and update guidelines from batch files and build the entailment
relationships they declare.

Every file is validated before anything is written. Files are then applied
in the order given; a file that fails while applying stops the command, and
guidelines it already stored are kept.

Examples:
  parley guidelines apply weather.cue
  parley guidelines apply base.yaml overrides.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuidelinesApply(rootOpts, args, cmd)
		},
	}
}

func runGuidelinesApply(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	batches := make([][]ir.Invoice, len(files))
	for i, file := range files {
		b, err := compiler.LoadBatchFile(file)
		if err != nil {
			return loadFailure(formatter, file, err)
		}
		formatter.VerboseLog("Loaded %d guideline(s) from %s", len(b.Guidelines), file)

		if errs := compiler.Validate(b); len(errs) > 0 {
			return outputValidationErrors(formatter, errs)
		}
		invoices, err := compiler.ResolveInvoices(b)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, file, err)
		}
		batches[i] = invoices
	}

	rt, err := opts.open()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer rt.Close(cmd.Context())

	applied := make([]AppliedBatch, 0, len(files))
	for i, invoices := range batches {
		ids, err := rt.app.CreateGuidelines(cmd.Context(), invoices)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeApplyFailed, fmt.Sprintf("failed to apply %s", files[i]), err)
		}
		applied = append(applied, AppliedBatch{File: files[i], Guidelines: ids})
	}

	return formatter.Render(applied, "", func(w io.Writer) {
		for _, a := range applied {
			fmt.Fprintf(w, "✓ %s: %d guideline(s)\n", a.File, len(a.Guidelines))
			for _, id := range a.Guidelines {
				fmt.Fprintf(w, "  %s\n", id)
			}
		}
	})
}

func newGuidelinesValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <batch-file>...",
		Short: "Validate guideline batch files without applying them",
		Long: `Parse and validate guideline batch files without touching the database.

Reports every problem found: missing fields, duplicate names or content,
references to names the batch does not define, and replace_connections on
entries that add rather than update.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuidelinesValidate(rootOpts, args, cmd)
		},
	}
}

func runGuidelinesValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var all []compiler.ValidationError
	for _, file := range files {
		b, err := compiler.LoadBatchFile(file)
		if err != nil {
			var ce *compiler.CompileError
			if !errors.As(err, &ce) {
				return loadFailure(formatter, file, err)
			}
			// A compile error is a finding, not a command error.
			all = append(all, compiler.ValidationError{
				Field:   ce.Field,
				Message: ce.Message,
				Code:    ErrCodeLoadFailed,
				Line:    lineOf(ce),
			})
			continue
		}

		formatter.VerboseLog("Validating %d guideline(s) in %s", len(b.Guidelines), file)
		all = append(all, compiler.Validate(b)...)
	}

	if len(all) > 0 {
		return outputValidationErrors(formatter, all)
	}
	return outputValidateSuccess(formatter)
}

func lineOf(ce *compiler.CompileError) int {
	if ce.Pos.IsValid() {
		return ce.Pos.Line()
	}
	return 0
}

// loadFailure reports a batch file that could not be read or parsed.
func loadFailure(formatter *OutputFormatter, file string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("batch file not found: %s", file), nil)
	}
	return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, fmt.Sprintf("failed to load %s", file), err)
}

// outputValidateSuccess outputs a successful validation result.
func outputValidateSuccess(formatter *OutputFormatter) error {
	return formatter.Render(ValidationResult{Valid: true}, "", func(w io.Writer) {
		fmt.Fprintln(w, "✓ All batches valid")
	})
}

// outputValidationErrors outputs validation errors in the configured format.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		_ = formatter.Error(errs[0].Code, fmt.Sprintf("%d validation error(s)", len(errs)), ValidationResult{
			Valid:  false,
			Errors: errs,
		})
	} else {
		w := formatter.Writer
		fmt.Fprintf(w, "✗ %d validation error(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(errs)))
}

// GuidelineList is the output of guidelines list.
type GuidelineList struct {
	Guidelines []ir.Guideline `json:"guidelines"`
}

func newGuidelinesListCommand(rootOpts *RootOptions) *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored guidelines",
		Long: `List stored guidelines in creation order.

With --tag, only guidelines carrying at least one of the given tag ids
are listed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			tagIDs := make([]ir.TagID, len(tags))
			for i, t := range tags {
				tagIDs[i] = ir.TagID(t)
			}
			guidelines, err := rt.store.Guidelines().ListGuidelines(cmd.Context(), tagIDs...)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list guidelines", err)
			}

			return formatter.Render(GuidelineList{Guidelines: guidelines}, "", func(w io.Writer) {
				if len(guidelines) == 0 {
					fmt.Fprintln(w, "No guidelines.")
					return
				}
				for _, g := range guidelines {
					printGuideline(w, g)
				}
			})
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only guidelines with this tag id (repeatable)")
	return cmd
}

func printGuideline(w io.Writer, g ir.Guideline) {
	state := ""
	if !g.Enabled {
		state = " (disabled)"
	}
	fmt.Fprintf(w, "%s%s\n  when %s\n  then %s\n", g.ID, state, g.Content.Condition, g.Content.Action)
}

func newGuidelinesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <guideline-id>",
		Short:         "Delete a guideline and its relationships",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			id := ir.GuidelineID(args[0])

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			if err := rt.app.DeleteGuideline(cmd.Context(), id); err != nil {
				return storeFailure(formatter, "failed to delete guideline", err)
			}
			return formatter.Render(map[string]ir.GuidelineID{"deleted": id}, "", func(w io.Writer) {
				fmt.Fprintf(w, "✓ Deleted %s\n", id)
			})
		},
	}
}

func newGuidelinesEnableCommand(rootOpts *RootOptions, enabled bool) *cobra.Command {
	use, short := "enable", "Enable a guideline"
	if !enabled {
		use, short = "disable", "Disable a guideline without deleting it"
	}

	return &cobra.Command{
		Use:           use + " <guideline-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			g, err := rt.app.SetGuidelineEnabled(cmd.Context(), ir.GuidelineID(args[0]), enabled)
			if err != nil {
				return storeFailure(formatter, "failed to "+use+" guideline", err)
			}
			return formatter.Render(g, "", func(w io.Writer) {
				printGuideline(w, g)
			})
		},
	}
}

// storeFailure reports a store error, distinguishing missing items.
func storeFailure(formatter *OutputFormatter, message string, err error) error {
	if store.IsNotFound(err) {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, message, err)
	}
	return formatter.Fail(ExitCommandError, ErrCodeStore, message, err)
}
