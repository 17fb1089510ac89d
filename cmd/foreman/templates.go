package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/internal/registry"
	"github.com/ShayCichocki/foreman/internal/workflow"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect workflow templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and configured templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplatesList,
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <template-id>",
	Short: "Print a template as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesShow,
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesShowCmd)
}

// templateCatalog resolves templates exactly as a run would.
func templateCatalog(cfg *config.Config) (*workflow.Orchestrator, error) {
	o := workflow.New(queue.New(), registry.New())
	if dir := cfg.Workflows.TemplatesDir; dir != "" {
		if _, err := o.LoadTemplates(dir); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := templateCatalog(cfg)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTEPS\tDESCRIPTION")
	for _, t := range catalog.Templates() {
		names := make([]string, len(t.Steps))
		for i, s := range t.Steps {
			names[i] = s.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, strings.Join(names, " > "), t.Description)
	}
	return tw.Flush()
}

func runTemplatesShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := templateCatalog(cfg)
	if err != nil {
		return err
	}
	t, err := catalog.Template(args[0])
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
