package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/state"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Manage the worker roster",
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workers",
	Args:  cobra.NoArgs,
	RunE:  runWorkersList,
}

var workersImportCmd = &cobra.Command{
	Use:   "import <roster.yaml>",
	Short: "Replace the stored roster with a roster file",
	Long: `Import a roster file into the state database, replacing the stored
roster. The next 'foreman run' starts with these workers.

Roster format:

  workers:
    - id: ada
      name: Ada
      role: backend engineer
      skills: [go, sql]
      instructions: Prefer small, reviewed changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkersImport,
}

func init() {
	workersCmd.AddCommand(workersListCmd)
	workersCmd.AddCommand(workersImportCmd)
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	workers, err := db.LoadWorkers(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(workers) == 0 {
		fmt.Fprintln(out, "No workers. Run 'foreman workers import <roster.yaml>' to add some.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tSTATUS\tWORKLOAD\tSKILLS")
	for _, w := range workers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			w.ID, w.Name, w.Role, w.Status, w.Workload, strings.Join(w.Skills, ","))
	}
	return tw.Flush()
}

func runWorkersImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workers, err := state.ImportRoster(args[0])
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveWorkers(cmd.Context(), workers); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d workers into %s\n", len(workers), db.Path())
	return nil
}
