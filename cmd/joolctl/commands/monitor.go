package commands

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// instanceStats aggregates the jool_translate_*/jool_nat64_* families
// down to one row per instance, summing across their family/protocol/
// reason label dimensions.
type instanceStats struct {
	translated float64
	dropped    float64
	accepted   float64
	bibs       float64
	sessions   float64
}

func monitorCmd() *cobra.Command {
	var metricsAddr string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll a jool-go daemon's Prometheus metrics endpoint and render a live table",
		Long:  "Polls the daemon's /metrics endpoint at --interval and renders per-instance packet and NAT64 state counters until interrupted (q or Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			m := newMonitorModel(metricsAddr, interval)
			p := tea.NewProgram(m, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run monitor: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&metricsAddr, "metrics-addr", "http://localhost:9100/metrics",
		"jool-go daemon's Prometheus metrics endpoint URL")
	flags.DurationVar(&interval, "interval", 2*time.Second, "poll interval")

	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type tickMsg time.Time

type metricsMsg struct {
	rows []table.Row
	err  error
}

type monitorModel struct {
	table    table.Model
	client   *http.Client
	url      string
	interval time.Duration
	lastErr  error
}

func newMonitorModel(url string, interval time.Duration) monitorModel {
	columns := []table.Column{
		{Title: "INSTANCE", Width: 16},
		{Title: "TRANSLATED", Width: 12},
		{Title: "DROPPED", Width: 10},
		{Title: "ACCEPTED", Width: 10},
		{Title: "BIBS", Width: 8},
		{Title: "SESSIONS", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	return monitorModel{
		table:    t,
		client:   &http.Client{Timeout: 5 * time.Second},
		url:      url,
		interval: interval,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(fetchMetricsCmd(m.client, m.url), tickCmd(m.interval))
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(fetchMetricsCmd(m.client, m.url), tickCmd(m.interval))
	case metricsMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.table.SetRows(msg.rows)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	view := headerStyle.Render("jool-go live instance counters") + "\n" + m.table.View()
	if m.lastErr != nil {
		view += "\n" + errStyle.Render("scrape error: "+m.lastErr.Error())
	}
	view += "\n(q to quit)\n"
	return view
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetchMetricsCmd(client *http.Client, url string) tea.Cmd {
	return func() tea.Msg {
		rows, err := fetchInstanceRows(client, url)
		return metricsMsg{rows: rows, err: err}
	}
}

func fetchInstanceRows(client *http.Client, url string) ([]table.Row, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics from %s: %w", url, err)
	}

	stats := aggregateInstanceStats(families)
	return statsToRows(stats), nil
}

// aggregateInstanceStats sums every metric family's samples by their
// "instance" label, collapsing the family/protocol/reason dimensions.
func aggregateInstanceStats(families map[string]*dto.MetricFamily) map[string]*instanceStats {
	stats := make(map[string]*instanceStats)

	get := func(name string) *instanceStats {
		s, ok := stats[name]
		if !ok {
			s = &instanceStats{}
			stats[name] = s
		}
		return s
	}

	for fqName, mf := range families {
		for _, metric := range mf.GetMetric() {
			instance := labelValue(metric, "instance")
			if instance == "" {
				continue
			}

			s := get(instance)
			v := metricValue(metric)

			switch fqName {
			case "jool_translate_packets_translated_total":
				s.translated += v
			case "jool_translate_packets_dropped_total":
				s.dropped += v
			case "jool_translate_packets_accepted_total":
				s.accepted += v
			case "jool_nat64_bib_entries":
				s.bibs += v
			case "jool_nat64_session_entries":
				s.sessions += v
			}
		}
	}

	return stats
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func metricValue(metric *dto.Metric) float64 {
	if c := metric.GetCounter(); c != nil {
		return c.GetValue()
	}
	if g := metric.GetGauge(); g != nil {
		return g.GetValue()
	}
	return 0
}

func statsToRows(stats map[string]*instanceStats) []table.Row {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		s := stats[name]
		rows = append(rows, table.Row{
			name,
			fmt.Sprintf("%.0f", s.translated),
			fmt.Sprintf("%.0f", s.dropped),
			fmt.Sprintf("%.0f", s.accepted),
			fmt.Sprintf("%.0f", s.bibs),
			fmt.Sprintf("%.0f", s.sessions),
		})
	}
	return rows
}
