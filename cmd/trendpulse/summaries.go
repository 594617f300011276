package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trendpulse/internal/database"
	"github.com/TobiSchelling/trendpulse/internal/tokens"
)

// --- summaries command ---

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "Browse and edit stream summaries",
}

var summariesLimit int

var summariesListCmd = &cobra.Command{
	Use:   "list [stream-id]",
	Short: "List a stream's summaries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("stream", args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if _, err := db.GetStream(ctx, id); err != nil {
			return err
		}

		var sums []database.Summary
		if summariesLimit > 0 {
			sums, err = db.RecentSummaries(ctx, id, summariesLimit)
		} else {
			sums, err = db.ListSummaries(ctx, id)
		}
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("No summaries yet. Refresh now with: trendpulse update", id)
			return nil
		}

		for i := range sums {
			if i > 0 {
				fmt.Println(strings.Repeat("-", 60))
			}
			printSummary(&sums[i])
		}
		return nil
	},
}

var summariesAddCmd = &cobra.Command{
	Use:   "add [stream-id] [content]",
	Short: "Append a summary written by hand",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("stream", args[0])
		if err != nil {
			return err
		}
		content := strings.TrimSpace(strings.Join(args[1:], " "))
		if content == "" {
			return fmt.Errorf("content must not be empty")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sum := &database.Summary{
			StreamID:               id,
			Content:                content,
			EstimatedContentTokens: tokens.Default().Count(content),
		}
		if err := db.AddSummary(cmd.Context(), sum); err != nil {
			return err
		}
		fmt.Printf("Added summary [%d] to stream [%d]\n", sum.ID, id)
		return nil
	},
}

var summariesDeleteCmd = &cobra.Command{
	Use:   "delete [summary-id]",
	Short: "Delete one summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("summary", args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteSummary(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted summary [%d]\n", id)
		return nil
	},
}

func init() {
	summariesListCmd.Flags().IntVarP(&summariesLimit, "limit", "n", 0, "Show only the newest N summaries")

	summariesCmd.AddCommand(summariesListCmd)
	summariesCmd.AddCommand(summariesAddCmd)
	summariesCmd.AddCommand(summariesDeleteCmd)
}

// --- ask command ---

var askCmd = &cobra.Command{
	Use:   "ask [summary-id] [question]",
	Short: "Ask a follow-up question about a summary",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("summary", args[0])
		if err != nil {
			return err
		}
		question := strings.Join(args[1:], " ")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := newRefresher(db)
		if err != nil {
			return err
		}

		res, err := r.FollowUp(cmd.Context(), id, question)
		if err != nil {
			return err
		}
		fmt.Println(res.Answer)
		printSources(res.Sources)
		return nil
	},
}

// --- prune command ---

var pruneKeep int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest summaries of every stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneKeep <= 0 {
			return fmt.Errorf("--keep must be positive")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		streams, err := db.ListStreams(ctx)
		if err != nil {
			return err
		}

		var total int64
		for _, st := range streams {
			n, err := db.PruneSummaries(ctx, st.ID, pruneKeep)
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Printf("  [%d] %s: removed %d\n", st.ID, truncate(st.Query, 40), n)
			}
			total += n
		}
		fmt.Printf("Removed %d summaries, kept at most %d per stream\n", total, pruneKeep)
		return nil
	},
}

// --- backfill-tokens command ---

var backfillCmd = &cobra.Command{
	Use:   "backfill-tokens",
	Short: "Estimate content tokens for summaries that have none",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.BackfillTokenEstimates(cmd.Context(), tokens.Default().Count)
		if err != nil {
			return err
		}
		fmt.Printf("Updated token estimates for %d summaries\n", n)
		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVarP(&pruneKeep, "keep", "k", 0, "Summaries to keep per stream")
	pruneCmd.MarkFlagRequired("keep")
}

func printSummary(s *database.Summary) {
	fmt.Printf("Summary [%d] %s", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	if s.Model != "" {
		fmt.Printf(" (%s)", s.Model)
	}
	fmt.Println()
	fmt.Println()
	fmt.Println(s.Content)
	printSources(s.Sources)
	if s.TotalTokens > 0 {
		fmt.Printf("\nTokens: %d prompt, %d completion, %d total\n", s.PromptTokens, s.CompletionTokens, s.TotalTokens)
	}
}

func printSources(sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, src := range sources {
		fmt.Printf("  %d. %s\n", i+1, src)
	}
}
