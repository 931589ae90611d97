package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/framepilot/framepilot/internal/config"
	"github.com/framepilot/framepilot/internal/controller"
	"github.com/framepilot/framepilot/internal/journal"
)

type dispatchReport struct {
	Status controller.Status `json:"status"`
	Recent []journal.Entry   `json:"recent"`
}

func newStatusCommand(configPath *string) *cobra.Command {
	var addrFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon's dispatch status",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := addrFlag
			if addr == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return fmt.Errorf("no --addr given and config unusable: %w", err)
				}
				addr = cfg.HTTPAddr
			}
			report, err := fetchDispatchReport(addr, limitFlag)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(report))
			return nil
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "Daemon address (host:port); defaults to the config's http_addr")
	cmd.Flags().IntVar(&limitFlag, "limit", 10, "Number of recent dispatches to show")
	return cmd
}

func fetchDispatchReport(addr string, limit int) (*dispatchReport, error) {
	url := fmt.Sprintf("http://%s/api/dispatch?limit=%d", normalizeAddr(addr), limit)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("query daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}

	var report dispatchReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &report, nil
}

// normalizeAddr turns a config bind address like ":8710" into something
// dialable.
func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func renderStatus(report *dispatchReport) string {
	s := report.Status
	pairs := [][2]string{
		{"Link state", s.LinkState},
		{"Link broken", strconv.FormatBool(s.LinkBroken)},
		{"Templates", strconv.Itoa(s.Templates)},
		{"Ticks", strconv.FormatUint(s.Ticks, 10)},
		{"Cache", fmt.Sprintf("%d/%d", s.Cache.Len, s.Cache.Capacity)},
		{"Cache hits", strconv.FormatUint(s.Cache.Hits, 10)},
		{"Cache misses", strconv.FormatUint(s.Cache.Misses, 10)},
	}
	if s.LastEvent != nil {
		pairs = append(pairs,
			[2]string{"Last outcome", s.LastEvent.Outcome},
			[2]string{"Last template", s.LastEvent.TemplateID},
		)
	}

	out := renderKV(pairs)
	if len(report.Recent) == 0 {
		return out
	}

	rows := make([][]string, 0, len(report.Recent))
	for _, e := range report.Recent {
		rows = append(rows, []string{
			e.At.Local().Format("15:04:05"),
			e.TemplateID,
			fmt.Sprintf("%.2f", e.Confidence),
			e.Outcome,
			strconv.Itoa(e.Attempts),
		})
	}
	return out + "\n" + renderRows([]string{"Time", "Template", "Confidence", "Outcome", "Attempts"}, rows, 3, 5)
}
