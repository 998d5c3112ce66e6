package console

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
)

// FormatDevices writes devices as an aligned table.
func FormatDevices(w io.Writer, devices []monitor.DeviceSnapshot) {
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(w, "デバイスがありません")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tMODEL\tPOWER\tMODE\tSPEED\tAQ\tPM2.5\tFILTER")
	for _, d := range devices {
		filter := "-"
		if d.FilterLife != nil {
			filter = strconv.Itoa(*d.FilterLife) + "%"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, d.Model, d.PowerState,
			optionalString(d.Mode), optionalInt(d.FanSpeed),
			optionalInt(d.AirQuality), optionalInt(d.AirQualityValue), filter)
	}
	_ = tw.Flush()
}

// FormatStatus writes the scheduler status as key/value lines.
func FormatStatus(w io.Writer, status monitor.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	lastRefresh := "never"
	if status.LastRefresh != nil {
		lastRefresh = status.LastRefresh.Local().Format(time.DateTime)
	}
	_, _ = fmt.Fprintf(tw, "state:\t%s\n", status.State)
	_, _ = fmt.Fprintf(tw, "interval:\t%s\n", time.Duration(status.IntervalSeconds*float64(time.Second)))
	_, _ = fmt.Fprintf(tw, "last refresh:\t%s\n", lastRefresh)
	_, _ = fmt.Fprintf(tw, "last change:\t%s\n", status.LastChange.Local().Format(time.DateTime))
	_, _ = fmt.Fprintf(tw, "devices:\t%d\n", status.Devices)
	_, _ = fmt.Fprintf(tw, "failures:\t%d\n", status.ConsecutiveFailures)
	_ = tw.Flush()
}

// FormatLog writes a log_notification on one line, attributes sorted by key.
func FormatLog(w io.Writer, entry protocol.LogNotificationPayload) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", entry.Time.Local().Format(time.TimeOnly), entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Attributes))
	for k := range entry.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attributes[k])
	}
	_, _ = fmt.Fprintln(w, b.String())
}

func optionalString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func optionalInt(i *int) string {
	if i == nil {
		return "-"
	}
	return strconv.Itoa(*i)
}
