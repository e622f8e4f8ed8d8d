package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show overall tethering status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := getStatus(context.Background())
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			out, err := formatStatus(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func ifacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ifaces",
		Short: "List every interface tetherd is tracking",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ifaces, err := getIfaces(context.Background())
			if err != nil {
				return fmt.Errorf("get ifaces: %w", err)
			}

			out, err := formatIfaces(ifaces, outputFormat)
			if err != nil {
				return fmt.Errorf("format ifaces: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
