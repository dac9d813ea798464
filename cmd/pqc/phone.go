package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPhoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phone",
		Short: "Manage the numbers alerted when a model's part fails",
	}

	cmd.AddCommand(newPhoneListCmd())
	cmd.AddCommand(newPhoneAddCmd())
	cmd.AddCommand(newPhoneUpdateCmd())
	cmd.AddCommand(newPhoneRemoveCmd())
	return cmd
}

func newPhoneListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list <model-id>",
		Short: "List alert phones of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, err := parseUintArg(args[0], "model id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			phones, err := a.registry.Phones(cmd.Context(), modelID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tNUMBER")
			for _, p := range phones {
				fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Name, p.PhoneNumber)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newPhoneAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "add <model-id> <number>",
		Short: "Add an alert phone to a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, err := parseUintArg(args[0], "model id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			p, err := a.registry.AddPhone(cmd.Context(), modelID, name, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added phone %d %s to model %d\n", p.ID, p.PhoneNumber, p.ModelID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the person alerted")
	return cmd
}

func newPhoneUpdateCmd() *cobra.Command {
	var (
		configPath string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "update <phone-id> <number>",
		Short: "Change an alert phone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUintArg(args[0], "phone id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			if err := a.registry.UpdatePhone(cmd.Context(), id, name, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated phone %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the person alerted")
	return cmd
}

func newPhoneRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <phone-id>",
		Short: "Remove an alert phone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUintArg(args[0], "phone id")
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			if err := a.registry.DeletePhone(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed phone %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
