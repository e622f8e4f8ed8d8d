package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errUnknownIfaceType = errors.New("unknown interface type, expected usb, wifi, or bluetooth")

func tetherCmd() *cobra.Command {
	var showUI bool

	cmd := &cobra.Command{
		Use:   "tether <usb|wifi|bluetooth>",
		Short: "Start tethering on a downstream interface type",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ifType, err := validateIfaceType(args[0])
			if err != nil {
				return err
			}

			resp, err := postTether(context.Background(), ifType, showUI)
			if err != nil {
				return fmt.Errorf("tether %s: %w", ifType, err)
			}

			out, err := formatTetherResult(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format result: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	cmd.Flags().BoolVar(&showUI, "show-provisioning-ui", false,
		"allow the carrier entitlement check to surface a UI to the user")

	return cmd
}

func untetherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untether <usb|wifi|bluetooth>",
		Short: "Stop tethering on a downstream interface type",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ifType, err := validateIfaceType(args[0])
			if err != nil {
				return err
			}

			resp, err := postUntether(context.Background(), ifType)
			if err != nil {
				return fmt.Errorf("untether %s: %w", ifType, err)
			}

			out, err := formatTetherResult(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format result: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func validateIfaceType(s string) (string, error) {
	switch s {
	case "usb", "wifi", "bluetooth":
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownIfaceType, s)
	}
}
