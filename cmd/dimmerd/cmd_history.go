package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/db"
	"github.com/dokzlo13/dimmerd/internal/ledger"
)

var (
	historyType   string
	historyKind   string
	historyTarget string
	historyLimit  int
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recorded cycle events",
	Long: `Print the cycle event ledger, newest first.

Examples:
  # Last 50 events
  dimmerd history

  # Every target that vanished while cycling
  dimmerd history --type target_lost

  # History of one light
  dimmerd history --kind brightness --target 3
`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyType, "type", "", "Only events of this type (cycle_started|cycle_stopped|cycles_cleared|target_lost)")
	historyCmd.Flags().StringVar(&historyKind, "kind", "brightness", "Kind of --target (brightness|color_temp)")
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "Only events of this target")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", ledger.DefaultLimit, "Maximum number of events")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	filter := ledger.Filter{Type: ledger.EventType(historyType), TargetID: historyTarget, Limit: historyLimit}
	if historyTarget != "" {
		kind, err := cycle.ParseKind(historyKind)
		if err != nil {
			return err
		}
		filter.Kind = string(kind)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := ledger.New(database.DB).Query(filter)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No events recorded")
		return nil
	}
	fmt.Printf("%-25s %-15s %-11s %-20s %s\n", "TIME", "EVENT", "KIND", "TARGET", "SOURCE")
	for _, e := range entries {
		fmt.Printf("%-25s %-15s %-11s %-20s %s\n",
			e.Timestamp.Local().Format(time.RFC3339), e.EventType, e.Kind, e.TargetID, e.Source)
	}
	return nil
}
