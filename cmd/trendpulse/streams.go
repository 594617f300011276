package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trendpulse/internal/database"
	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// --- streams command ---

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Manage topic streams",
}

// streamFlags holds the raw values of the stream setting flags.
type streamFlags struct {
	frequency     string
	detail        string
	model         string
	recency       string
	temperature   float64
	systemPrompt  string
	contextPolicy string
}

var (
	addFlags    streamFlags
	updateFlags streamFlags
	updateQuery string
)

func (f *streamFlags) register(cmd *cobra.Command, withDefaults bool) {
	def := func(v string) string {
		if withDefaults {
			return v
		}
		return ""
	}
	cmd.Flags().StringVarP(&f.frequency, "frequency", "f", def(string(topic.Daily)), "Refresh interval: hourly, daily, weekly")
	cmd.Flags().StringVarP(&f.detail, "detail", "d", def(string(topic.Detailed)), "Detail level: brief, detailed, comprehensive")
	cmd.Flags().StringVarP(&f.model, "model", "m", def(string(topic.Sonar)), "Model: sonar, sonar-pro, sonar-reasoning, sonar-reasoning-pro, sonar-deep-research, r1-1776")
	cmd.Flags().StringVarP(&f.recency, "recency", "r", def(string(topic.LastDay)), "Recency filter: 1h, 1d, 1w, 1m, 1y, all_time")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0.2, "Sampling temperature")
	cmd.Flags().StringVar(&f.systemPrompt, "system-prompt", "", "Custom system instruction (empty clears it on update)")
	cmd.Flags().StringVar(&f.contextPolicy, "context", def(string(topic.ContextLast1)), "History fed to refreshes: none, last_1, last_3, last_5, all_within_budget")
}

var streamsAddCmd = &cobra.Command{
	Use:   "add [query]",
	Short: "Add a topic stream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := &database.Stream{
			Query:       strings.Join(args, " "),
			Temperature: addFlags.temperature,
		}
		var err error
		if st.Frequency, err = topic.ParseFrequency(addFlags.frequency); err != nil {
			return err
		}
		if st.Detail, err = topic.ParseDetailLevel(addFlags.detail); err != nil {
			return err
		}
		if st.Model, err = topic.ParseModel(addFlags.model); err != nil {
			return err
		}
		if st.Recency, err = topic.ParseRecency(addFlags.recency); err != nil {
			return err
		}
		if st.ContextPolicy, err = topic.ParseContextPolicy(addFlags.contextPolicy); err != nil {
			return err
		}
		if addFlags.systemPrompt != "" {
			st.SystemPrompt = &addFlags.systemPrompt
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CreateStream(cmd.Context(), st); err != nil {
			return err
		}
		fmt.Printf("Added stream [%d]: %s (%s)\n", st.ID, st.Query, st.Frequency)
		fmt.Println("A running 'trendpulse run' picks it up and refreshes it right away.")
		return nil
	},
}

var streamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topic streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		streams, err := db.ListStreams(cmd.Context())
		if err != nil {
			return err
		}
		if len(streams) == 0 {
			fmt.Println("No streams defined. Add one with: trendpulse streams add")
			return nil
		}

		for _, st := range streams {
			fmt.Printf("  [%d] %s\n", st.ID, st.Query)
			fmt.Printf("        %s, %s, %s, recency %s, last refresh %s\n",
				st.Frequency, st.Detail, st.Model, st.Recency, lastUpdated(st))
		}
		return nil
	},
}

var streamsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a stream and its latest summary",
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
		st, err := db.GetStream(ctx, id)
		if err != nil {
			return err
		}
		printStream(st)

		recent, err := db.RecentSummaries(ctx, id, 1)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			fmt.Println("\nNo summaries yet.")
			return nil
		}
		fmt.Println()
		printSummary(&recent[0])
		return nil
	},
}

var streamsUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Change a stream's settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("stream", args[0])
		if err != nil {
			return err
		}

		u, err := streamUpdate(cmd)
		if err != nil {
			return err
		}
		if u.Empty() {
			return fmt.Errorf("nothing to update; pass at least one flag")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := db.UpdateStream(cmd.Context(), id, u)
		if err != nil {
			return err
		}
		fmt.Printf("Updated stream [%d]\n", st.ID)
		printStream(st)
		if u.ChangesSchedule() {
			fmt.Println("\nA running 'trendpulse run' reschedules it and refreshes it right away.")
		}
		return nil
	},
}

// streamUpdate collects the flags the user set into an update.
func streamUpdate(cmd *cobra.Command) (database.StreamUpdate, error) {
	var u database.StreamUpdate
	changed := cmd.Flags().Changed

	if changed("query") {
		q := strings.TrimSpace(updateQuery)
		if q == "" {
			return u, fmt.Errorf("query must not be empty")
		}
		u.Query = &q
	}
	if changed("frequency") {
		f, err := topic.ParseFrequency(updateFlags.frequency)
		if err != nil {
			return u, err
		}
		u.Frequency = &f
	}
	if changed("detail") {
		d, err := topic.ParseDetailLevel(updateFlags.detail)
		if err != nil {
			return u, err
		}
		u.Detail = &d
	}
	if changed("model") {
		m, err := topic.ParseModel(updateFlags.model)
		if err != nil {
			return u, err
		}
		u.Model = &m
	}
	if changed("recency") {
		r, err := topic.ParseRecency(updateFlags.recency)
		if err != nil {
			return u, err
		}
		u.Recency = &r
	}
	if changed("temperature") {
		u.Temperature = &updateFlags.temperature
	}
	if changed("system-prompt") {
		u.SystemPrompt = &updateFlags.systemPrompt
	}
	if changed("context") {
		p, err := topic.ParseContextPolicy(updateFlags.contextPolicy)
		if err != nil {
			return u, err
		}
		u.ContextPolicy = &p
	}
	return u, nil
}

var streamsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a stream and its summaries",
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
		st, err := db.GetStream(ctx, id)
		if err != nil {
			return err
		}
		if err := db.DeleteStream(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed stream [%d]: %s\n", id, st.Query)
		return nil
	},
}

func init() {
	addFlags.register(streamsAddCmd, true)
	updateFlags.register(streamsUpdateCmd, false)
	streamsUpdateCmd.Flags().StringVarP(&updateQuery, "query", "q", "", "New query text")

	streamsCmd.AddCommand(streamsAddCmd)
	streamsCmd.AddCommand(streamsListCmd)
	streamsCmd.AddCommand(streamsShowCmd)
	streamsCmd.AddCommand(streamsUpdateCmd)
	streamsCmd.AddCommand(streamsRemoveCmd)
}

func printStream(st *database.Stream) {
	fmt.Printf("Stream [%d]: %s\n", st.ID, st.Query)
	fmt.Printf("  Frequency:    %s\n", st.Frequency)
	fmt.Printf("  Detail:       %s\n", st.Detail)
	fmt.Printf("  Model:        %s\n", st.Model)
	fmt.Printf("  Recency:      %s\n", st.Recency)
	fmt.Printf("  Temperature:  %.2f\n", st.Temperature)
	fmt.Printf("  Context:      %s\n", st.ContextPolicy)
	if st.SystemPrompt != nil {
		fmt.Printf("  Instruction:  %s\n", truncate(*st.SystemPrompt, 60))
	}
	fmt.Printf("  Last refresh: %s\n", lastUpdated(*st))
}
