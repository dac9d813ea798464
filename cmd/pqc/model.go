package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage product models and the active model",
	}

	cmd.AddCommand(newModelListCmd())
	cmd.AddCommand(newModelAddCmd())
	cmd.AddCommand(newModelUpdateCmd())
	cmd.AddCommand(newModelDeleteCmd())
	cmd.AddCommand(newModelActivateCmd())
	cmd.AddCommand(newModelActiveCmd())
	cmd.AddCommand(newModelClearCmd())
	return cmd
}

func parseUintArg(s, what string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return uint(n), nil
}

func newModelListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List product models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			list, err := a.registry.ListModels(ctx)
			if err != nil {
				return err
			}
			activeID := uint(0)
			if m, err := a.registry.GetActiveModel(ctx); err == nil {
				activeID = m.ID
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tLOWER\tUPPER\t")
			for _, m := range list {
				marker := ""
				if m.ID == activeID {
					marker = "active"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%.3f\t%s\n", m.ID, m.Name, m.ModelType, m.LowerLimit, m.UpperLimit, marker)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newModelAddCmd() *cobra.Command {
	var (
		configPath   string
		modelType    string
		lower, upper float64
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a product model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			m, err := a.registry.CreateModel(cmd.Context(), args[0], modelType, lower, upper)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created model %d %s (%s) limits %.3f-%.3f mm\n", m.ID, m.Name, m.ModelType, m.LowerLimit, m.UpperLimit)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&modelType, "type", "t", "", "model type, e.g. RHD or LHD")
	cmd.Flags().Float64Var(&lower, "lower", 0, "lower peak height limit in mm")
	cmd.Flags().Float64Var(&upper, "upper", 0, "upper peak height limit in mm")
	cmd.MarkFlagRequired("lower")
	cmd.MarkFlagRequired("upper")
	return cmd
}

func newModelUpdateCmd() *cobra.Command {
	var (
		configPath      string
		name, modelType string
		lower, upper    float64
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a model's name, type or limits",
		Long:  "Changes a model. Recorded cycles keep the limits they were judged against.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUintArg(args[0], "model id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			m, err := a.registry.GetModel(ctx, id)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("name") {
				name = m.Name
			}
			if !flags.Changed("type") {
				modelType = m.ModelType
			}
			if !flags.Changed("lower") {
				lower = m.LowerLimit
			}
			if !flags.Changed("upper") {
				upper = m.UpperLimit
			}
			m, err = a.registry.UpdateModel(ctx, id, name, modelType, lower, upper)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated model %d %s (%s) limits %.3f-%.3f mm\n", m.ID, m.Name, m.ModelType, m.LowerLimit, m.UpperLimit)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&name, "name", "", "new model name")
	cmd.Flags().StringVarP(&modelType, "type", "t", "", "new model type")
	cmd.Flags().Float64Var(&lower, "lower", 0, "new lower limit in mm")
	cmd.Flags().Float64Var(&upper, "upper", 0, "new upper limit in mm")
	return cmd
}

func newModelDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a model that has no live cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUintArg(args[0], "model id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			if err := a.registry.DeleteModel(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted model %d and its alert phones\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newModelActivateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Switch the line to a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUintArg(args[0], "model id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			m, err := a.registry.SetActiveModel(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active model: %s (%s) limits %.3f-%.3f mm\n", m.Name, m.ModelType, m.LowerLimit, m.UpperLimit)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newModelActiveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the active model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			m, err := a.registry.GetActiveModel(cmd.Context())
			if errors.Is(err, qcerr.ErrNoActiveModel) {
				fmt.Fprintln(cmd.OutOrStdout(), warn("No active model; recording is stopped."))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active model: %d %s (%s) limits %.3f-%.3f mm\n", m.ID, m.Name, m.ModelType, m.LowerLimit, m.UpperLimit)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newModelClearCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the active model and stop recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			if err := a.registry.ClearActiveModel(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Active model cleared")
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
