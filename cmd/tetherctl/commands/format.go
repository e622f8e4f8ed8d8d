package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNone   = "-"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatStatus(status *statusResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(status)
	case formatTable:
		return formatStatusTable(status), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatIfaces(ifaces []ifaceStatus, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(ifaces)
	case formatTable:
		return formatIfacesTable(ifaces), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatTetherResult(resp *tetherResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(resp)
	case formatTable:
		if resp.Pending {
			return "pending (entitlement check outstanding)\n", nil
		}
		return resp.Error + "\n", nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatStatusTable(status *statusResponse) string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Tethered:   %s\n", joinOrNone(status.Tethered))
	fmt.Fprintf(&buf, "Tetherable: %s\n", joinOrNone(status.Tetherable))
	fmt.Fprintf(&buf, "Errored:    %s\n", joinOrNone(status.Errored))
	buf.WriteString("\n")
	buf.WriteString(formatIfacesTable(status.Interfaces))

	return buf.String()
}

func formatIfacesTable(ifaces []ifaceStatus) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSTATE\tERROR")

	for _, i := range ifaces {
		errStr := i.Error
		if errStr == "" {
			errStr = valueNone
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", i.Name, i.Type, i.State, errStr)
	}

	w.Flush()

	return buf.String()
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return valueNone
	}
	return strings.Join(names, ", ")
}
