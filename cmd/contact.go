package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
)

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage expert contacts",
	Long:  "Commands for registering experts, listing the roster, and inspecting a single contact.",
}

// -- contact add --

var contactAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new expert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		phone, _ := cmd.Flags().GetString("phone")
		email, _ := cmd.Flags().GetString("email")
		bio, _ := cmd.Flags().GetString("bio")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		trust, _ := cmd.Flags().GetFloat64("trust")
		maxPerDay, _ := cmd.Flags().GetInt("max-per-day")

		expertiseTags := make([]model.ExpertiseTag, 0, len(tags))
		for _, t := range tags {
			expertiseTags = append(expertiseTags, model.ExpertiseTag{Name: t, Confidence: 1.0})
		}

		now := time.Now()
		contact := &model.Contact{
			ID:               uuid.New(),
			PhoneNumber:      phone,
			Email:            email,
			Name:             args[0],
			Bio:              bio,
			ExpertiseTags:    expertiseTags,
			TrustScore:       trust,
			IsAvailable:      true,
			MaxQueriesPerDay: maxPerDay,
			Status:           model.ContactStatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := st.CreateContact(ctx, contact); err != nil {
			return eris.Wrap(err, "contact add")
		}

		fmt.Printf("Registered %s (%s)\n", contact.Name, contact.ID)
		return nil
	},
}

// -- contact list --

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List expert contacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		matchableOnly, _ := cmd.Flags().GetBool("matchable")
		limit, _ := cmd.Flags().GetInt("limit")

		contacts, err := st.ListContacts(ctx, store.ContactFilter{
			OnlyMatchable: matchableOnly,
			Limit:         limit,
		})
		if err != nil {
			return eris.Wrap(err, "contact list")
		}

		if len(contacts) == 0 {
			fmt.Fprintln(os.Stderr, "No contacts found.")
			return nil
		}

		formatContactList(os.Stdout, contacts)
		return nil
	},
}

// -- contact show --

var contactShowCmd = &cobra.Command{
	Use:   "show <contact-id>",
	Short: "Show one contact in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "contact show: parse id")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contact, err := st.GetContact(ctx, id)
		if err != nil {
			return eris.Wrap(err, "contact show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contact)
	},
}

func init() {
	contactAddCmd.Flags().String("phone", "", "contact phone number (required)")
	contactAddCmd.Flags().String("email", "", "contact email")
	contactAddCmd.Flags().String("bio", "", "short biography")
	contactAddCmd.Flags().StringSlice("tags", nil, "expertise tags")
	contactAddCmd.Flags().Float64("trust", 0.5, "initial trust score (0 to 1)")
	contactAddCmd.Flags().Int("max-per-day", 10, "max queries routed per day")
	_ = contactAddCmd.MarkFlagRequired("phone")

	contactListCmd.Flags().Bool("matchable", false, "only show active, available contacts")
	contactListCmd.Flags().Int("limit", 100, "max contacts to display")

	contactCmd.AddCommand(contactAddCmd)
	contactCmd.AddCommand(contactListCmd)
	contactCmd.AddCommand(contactShowCmd)
	rootCmd.AddCommand(contactCmd)
}

// formatContactList writes a tabular roster to w.
func formatContactList(out io.Writer, contacts []*model.Contact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTRUST\tTAGS\tEARNINGS")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----\t----\t--------")

	for _, c := range contacts {
		tags := strings.Join(c.TagNames(), ",")
		if len(tags) > 30 {
			tags = tags[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%d\n",
			truncateID(c.ID.String()),
			c.Name,
			c.Status,
			c.TrustScore,
			tags,
			c.TotalEarningsCents,
		)
	}
	_ = w.Flush()
}
