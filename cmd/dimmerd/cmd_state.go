package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/db"
	"github.com/dokzlo13/dimmerd/internal/engine"
	"github.com/dokzlo13/dimmerd/internal/storage"
)

var (
	stateJSON bool
	resetKind string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted cycles without starting the loop",
	RunE:  runState,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear persisted cycles",
	Long: `Clear the persisted cycle registries.

Examples:
  # Forget every cycle
  dimmerd reset

  # Forget color temperature cycles only
  dimmerd reset --kind color_temp
`,
	RunE: runReset,
}

func init() {
	stateCmd.Flags().BoolVar(&stateJSON, "json", false, "Print JSON instead of a table")
	resetCmd.Flags().StringVar(&resetKind, "kind", "", "Only clear this kind (brightness|color_temp)")
	rootCmd.AddCommand(stateCmd, resetCmd)
}

func openCycleStore(path string) (*storage.CycleStore, *db.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewCycleStore(storage.NewStore(database.DB)), database, nil
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, database, err := openCycleStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	eng := engine.New(cycle.NewRegistry(nil), nil, nil, engine.DefaultDefaults())
	if _, err := eng.Restore(store); err != nil {
		return err
	}
	status := eng.Status()

	if stateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Print(status.Format())
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var kind cycle.Kind
	if resetKind != "" {
		if kind, err = cycle.ParseKind(resetKind); err != nil {
			return err
		}
	}

	store, database, err := openCycleStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Clear(kind); err != nil {
		return err
	}

	if kind == "" {
		fmt.Println("Cleared all persisted cycles")
	} else {
		fmt.Printf("Cleared persisted %s cycles\n", kind)
	}
	return nil
}
