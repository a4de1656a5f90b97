package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/matching"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/queries"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Create and inspect queries",
	Long:  "Commands for submitting questions, routing them to experts, and tracking their progress.",
}

// -- query create --

var queryCreateCmd = &cobra.Command{
	Use:   "create <question>",
	Short: "Submit a new question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		phone, _ := cmd.Flags().GetString("phone")
		budget, _ := cmd.Flags().GetInt64("budget")
		minExperts, _ := cmd.Flags().GetInt("min-experts")
		maxExperts, _ := cmd.Flags().GetInt("max-experts")

		query, err := env.Queries.Create(ctx, queries.CreateParams{
			UserPhone:      phone,
			QuestionText:   args[0],
			MinExperts:     minExperts,
			MaxExperts:     maxExperts,
			TotalCostCents: budget,
		})
		if err != nil {
			return eris.Wrap(err, "query create")
		}

		fmt.Printf("Created query %s (budget %d cents)\n", query.ID, query.TotalCostCents)
		return nil
	},
}

// -- query route --

var queryRouteCmd = &cobra.Command{
	Use:   "route <query-id>",
	Short: "Match experts for a query and send invitations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "query route: parse id")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tags, _ := cmd.Flags().GetStringSlice("tags")
		limit, _ := cmd.Flags().GetInt("limit")
		includeRecent, _ := cmd.Flags().GetBool("include-recent")

		query, err := env.Queries.Get(ctx, id)
		if err != nil {
			return eris.Wrap(err, "query route")
		}
		if err := env.Queries.UpdateStatus(ctx, id, model.QueryStatusRouting, ""); err != nil {
			return eris.Wrap(err, "query route")
		}
		query.Status = model.QueryStatusRouting

		candidates, err := env.Store.ListContacts(ctx, store.ContactFilter{OnlyMatchable: true})
		if err != nil {
			return eris.Wrap(err, "query route: list candidates")
		}

		records, err := env.Selector.Select(ctx, query, candidates, matching.Options{
			Limit:         limit,
			QueryTags:     tags,
			IncludeRecent: includeRecent,
		})
		if err != nil {
			return eris.Wrap(err, "query route: select")
		}
		if len(records) == 0 {
			_ = env.Queries.UpdateStatus(ctx, id, model.QueryStatusFailed, "no experts matched")
			return eris.New("query route: no experts matched")
		}

		byID := make(map[uuid.UUID]*model.Contact, len(candidates))
		for _, c := range candidates {
			byID[c.ID] = c
		}
		matched := make([]*model.Contact, 0, len(records))
		for _, rec := range records {
			if c, ok := byID[rec.ContactID]; ok {
				matched = append(matched, c)
			}
		}

		outreachRecords, err := env.Outreach.Dispatch(ctx, query, matched)
		if err != nil {
			return eris.Wrap(err, "query route: dispatch")
		}
		if err := env.Queries.UpdateStatus(ctx, id, model.QueryStatusCollecting, ""); err != nil {
			return eris.Wrap(err, "query route")
		}

		formatMatches(os.Stdout, records, byID)
		sent := 0
		for _, rec := range outreachRecords {
			if rec.Status == model.OutreachStatusSent {
				sent++
			}
		}
		fmt.Printf("\nInvited %d of %d matched experts.\n", sent, len(records))
		return nil
	},
}

// -- query status --

var queryStatusCmd = &cobra.Command{
	Use:   "status <query-id>",
	Short: "Show a query's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "query status: parse id")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snapshot, err := env.Queries.Status(ctx, id)
		if err != nil {
			return eris.Wrap(err, "query status")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

// -- query synthesize --

var querySynthesizeCmd = &cobra.Command{
	Use:   "synthesize <query-id>",
	Short: "Compile collected responses into the final answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "query synthesize: parse id")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		answer, err := env.Synthesizer.Synthesize(ctx, id)
		if err != nil {
			return eris.Wrap(err, "query synthesize")
		}

		fmt.Printf("Answer (%s, %d citations):\n\n%s\n", answer.CompilationMethod, len(answer.Citations), answer.FinalAnswer)
		return nil
	},
}

// -- query list --

var queryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		phone, _ := cmd.Flags().GetString("phone")
		limit, _ := cmd.Flags().GetInt("limit")

		out, err := env.Queries.List(ctx, queries.Filter{
			Status:    model.QueryStatus(status),
			UserPhone: phone,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "query list")
		}

		if len(out) == 0 {
			fmt.Fprintln(os.Stderr, "No queries found.")
			return nil
		}

		formatQueryList(os.Stdout, out)
		return nil
	},
}

func init() {
	queryCreateCmd.Flags().String("phone", "", "requester phone number (required)")
	queryCreateCmd.Flags().Int64("budget", 0, "budget in cents (default covers min experts)")
	queryCreateCmd.Flags().Int("min-experts", 0, "minimum experts to route to")
	queryCreateCmd.Flags().Int("max-experts", 0, "maximum experts to route to")
	_ = queryCreateCmd.MarkFlagRequired("phone")

	queryRouteCmd.Flags().StringSlice("tags", nil, "topic tags to match against expert tags")
	queryRouteCmd.Flags().Int("limit", 0, "max experts to match (default from config)")
	queryRouteCmd.Flags().Bool("include-recent", false, "match recently contacted experts as well")

	queryListCmd.Flags().String("status", "", "filter by status (pending, routing, collecting, compiling, completed, failed, cancelled)")
	queryListCmd.Flags().String("phone", "", "filter by requester phone")
	queryListCmd.Flags().Int("limit", 50, "max queries to display")

	queryCmd.AddCommand(queryCreateCmd)
	queryCmd.AddCommand(queryRouteCmd)
	queryCmd.AddCommand(queryStatusCmd)
	queryCmd.AddCommand(querySynthesizeCmd)
	queryCmd.AddCommand(queryListCmd)
	rootCmd.AddCommand(queryCmd)
}

// formatQueryList writes a tabular list of queries to w.
func formatQueryList(out io.Writer, list []*model.Query) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tQUESTION\tBUDGET\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t------\t-------")

	for _, q := range list {
		question := q.QuestionText
		if len(question) > 40 {
			question = question[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncateID(q.ID.String()),
			q.Status,
			question,
			q.TotalCostCents,
			q.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatMatches writes the ranked match list to w.
func formatMatches(out io.Writer, records []*model.MatchRecord, contacts map[uuid.UUID]*model.Contact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tEXPERT\tSCORE\tWAVE\tAVAILABILITY")
	_, _ = fmt.Fprintln(w, "----\t------\t-----\t----\t------------")

	for i, rec := range records {
		name := rec.ContactID.String()[:8]
		if c, ok := contacts[rec.ContactID]; ok && c.Name != "" {
			name = c.Name
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.2f\t%d\t%s\n",
			i+1,
			name,
			rec.Scores.FinalScore,
			rec.WaveGroup,
			rec.AvailabilityStatus,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
