// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tempbus/pkg/filter"
	"github.com/Thermoquad/tempbus/pkg/r4dcb08"
)

var (
	monitorChannels int
	monitorInterval time.Duration
	monitorMedian   bool
	monitorMAF      int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live temperature view",
	Long: `Poll the module and show every channel with its minimum and maximum,
transaction statistics and recent errors.

Keys: q quit, p pause, r reset statistics and extremes.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVarP(&monitorChannels, "channels", "n", r4dcb08.Channels, "Number of channels to read (1-8)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Polling interval")
	monitorCmd.Flags().BoolVar(&monitorMedian, "median", false, "Apply three-point median filter")
	monitorCmd.Flags().IntVar(&monitorMAF, "maf", 0, "Apply moving average over N samples (odd, 3-15; 0 disables)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorChannels < 1 || monitorChannels > r4dcb08.Channels {
		return fmt.Errorf("%w: channel count %d is not 1..%d", r4dcb08.ErrInvalidArgument, monitorChannels, r4dcb08.Channels)
	}
	if monitorInterval <= 0 {
		return fmt.Errorf("%w: interval must be positive", r4dcb08.ErrInvalidArgument)
	}

	client, conn, desc, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := newSampler(client, deviceAddress, monitorChannels, monitorMedian, monitorMAF)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newMonitorModel(s, desc, monitorInterval), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// extremes tracks the range seen on one channel
type extremes struct {
	min, max float64
}

// Messages
type tickMsg time.Time
type readingMsg struct {
	sample filter.Sample
	err    error
}

// TUI model
type monitorModel struct {
	sampler   *sampler
	transport string
	interval  time.Duration

	table    table.Model
	last     *filter.Sample
	extremes []extremes
	stats    r4dcb08.Statistics

	eventLog      []logEntry
	maxLogEntries int

	started  time.Time
	inFlight bool
	paused   bool
	width    int
	height   int
	quitting bool
}

func newMonitorModel(s *sampler, transport string, interval time.Duration) monitorModel {
	columns := []table.Column{
		{Title: "Channel", Width: 8},
		{Title: "Temp [C]", Width: 9},
		{Title: "Min", Width: 7},
		{Title: "Max", Width: 7},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(emptyRows(s.channels)),
		table.WithHeight(s.channels+1),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Cell
	t.SetStyles(styles)

	return monitorModel{
		sampler:       s,
		transport:     transport,
		interval:      interval,
		table:         t,
		extremes:      newExtremes(s.channels),
		maxLogEntries: 100,
		started:       time.Now(),
		inFlight:      true, // Init issues the first read
		width:         80,
		height:        24,
	}
}

func emptyRows(channels int) []table.Row {
	rows := make([]table.Row, channels)
	for i := range rows {
		rows[i] = table.Row{fmt.Sprintf("Ch%d", i+1), "-", "-", "-"}
	}
	return rows
}

func newExtremes(channels int) []extremes {
	e := make([]extremes, channels)
	for i := range e {
		e[i] = extremes{min: math.Inf(1), max: math.Inf(-1)}
	}
	return e
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(m.interval),
		m.readCmd(),
	)
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// readCmd reads one sample off the UI goroutine
func (m monitorModel) readCmd() tea.Cmd {
	s := m.sampler
	return func() tea.Msg {
		sample, err := s.next()
		return readingMsg{sample: sample, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "p":
			m.paused = !m.paused
			if m.paused {
				m.addLogEntry("Paused", false)
			} else {
				m.addLogEntry("Resumed", false)
			}
		case "r":
			m.sampler.client.ResetStats()
			m.stats = m.sampler.client.Stats()
			m.extremes = newExtremes(m.sampler.channels)
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// One transaction on the bus at a time
		if m.inFlight || m.paused {
			return m, tickCmd(m.interval)
		}
		m.inFlight = true
		return m, tea.Batch(tickCmd(m.interval), m.readCmd())

	case readingMsg:
		m.inFlight = false
		m.stats = m.sampler.client.Stats()
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
			return m, nil
		}
		m.applySample(msg.sample)
	}

	return m, nil
}

func (m *monitorModel) applySample(s filter.Sample) {
	m.last = &s
	rows := make([]table.Row, len(s.Values))
	for i, v := range s.Values {
		e := &m.extremes[i]
		if !filter.IsUnavailable(v) {
			e.min = math.Min(e.min, v)
			e.max = math.Max(e.max, v)
		}
		rows[i] = table.Row{
			fmt.Sprintf("Ch%d", i+1),
			formatCell(v),
			formatCell(e.min),
			formatCell(e.max),
		}
	}
	m.table.SetRows(rows)
}

func formatCell(v float64) string {
	switch {
	case filter.IsUnavailable(v):
		return "NaN"
	case math.IsInf(v, 0):
		return "-"
	default:
		return fmt.Sprintf("%.1f", v)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("TEMPBUS - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Address %d | Every %v | Up %s | q quit, p pause, r reset",
		m.transport, m.sampler.address, m.interval, formatUptime(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Readings
	when := "waiting for first reading"
	if m.last != nil {
		when = "last reading " + formatSampleTime(m.last.Time)
	}
	if m.paused {
		s.WriteString(warningStyle.Render("Paused, " + when))
	} else {
		s.WriteString(valueStyle.Render(when))
	}
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n\n")

	// Statistics
	var okPercent float64
	if m.stats.Transactions > 0 {
		okPercent = float64(m.stats.Successful) * 100.0 / float64(m.stats.Transactions)
	}
	errorsRendered := valueStyle.Render("0")
	if n := m.stats.Errors(); n > 0 {
		errorsRendered = errorStyle.Render(fmt.Sprintf("%d", n))
	}

	var stats strings.Builder
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Transactions:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.Transactions)),
		labelStyle.Render("OK:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Successful, okPercent)),
		labelStyle.Render("Errors:"), errorsRendered,
	))
	if m.stats.Errors() > 0 {
		stats.WriteString(headerStyle.Render(fmt.Sprintf("timeouts %d, framing %d, CRC %d, protocol %d, transport %d",
			m.stats.Timeouts, m.stats.FramingErrors, m.stats.CRCErrors, m.stats.ProtocolErrors,
			m.stats.TransportErrors+m.stats.SendErrors)))
		stats.WriteString("\n")
	}
	stats.WriteString(fmt.Sprintf("%s %s",
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.2f trans/s", m.stats.TransactionRate)),
	))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.sampler.channels - 16
	if logHeight < 3 {
		logHeight = 3
	}
	startIdx := max(len(m.eventLog)-logHeight, 0)

	var events strings.Builder
	if len(m.eventLog) == 0 {
		events.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			events.WriteString(timestamp + " " + errorStyle.Render("✗ "+entry.message) + "\n")
		} else {
			events.WriteString(timestamp + " " + warningStyle.Render("ℹ "+entry.message) + "\n")
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(events.String()))

	return s.String()
}

func formatSampleTime(t time.Time) string {
	return t.Format("15:04:05.00")
}
