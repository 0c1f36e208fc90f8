package main

import (
	"jan-server/tools/model-updater/internal/interfaces/report"

	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models with their base model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return configError(cmd.Context(), err)
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			records, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			return report.WriteRecords(a.stdout, records)
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <model-id>",
		Short: "Print one model record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return configError(cmd.Context(), err)
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			rec, err := client.GetModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return report.WriteRecord(a.stdout, rec, report.Format(output))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(report.FormatYAML), "Output format: yaml or json")
	return cmd
}
