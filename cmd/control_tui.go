// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/kspethernetio/kspeth/internal/client"
	"github.com/kspethernetio/kspeth/pkg/kspio"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	viewRefresh   = 100 * time.Millisecond
	throttleStep  = throttleMax / 10
	maxLogEntries = 100
	logHeight     = 8
)

//////////////////////////////////////////////////////////////
// Key map
//////////////////////////////////////////////////////////////

type controlKeyMap struct {
	Start, Stop, Reset, Quit                key.Binding
	SAS, RCS, Light, Gear, Brakes, Precise  key.Binding
	Stage, Abort, ActionGroup               key.Binding
	ThrottleFull, ThrottleCut               key.Binding
	ThrottleUp, ThrottleDown, ThrottleEnter key.Binding
	SASNext, SASPrev, Navball               key.Binding
	Camera, UIMode, Map, Menu, Help         key.Binding
}

func newControlKeyMap() controlKeyMap {
	return controlKeyMap{
		Start: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Stop:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "stop")),
		Reset: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reset")),
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),

		SAS:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "SAS")),
		RCS:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "RCS")),
		Light:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "lights")),
		Gear:    key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "gear")),
		Brakes:  key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "brakes")),
		Precise: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "precision")),

		Stage:       key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "stage")),
		Abort:       key.NewBinding(key.WithKeys("backspace"), key.WithHelp("backspace", "abort")),
		ActionGroup: key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9", "0"), key.WithHelp("1-0", "action group")),

		ThrottleFull:  key.NewBinding(key.WithKeys("z"), key.WithHelp("z", "full throttle")),
		ThrottleCut:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cut throttle")),
		ThrottleUp:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "throttle up")),
		ThrottleDown:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "throttle down")),
		ThrottleEnter: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "set throttle")),

		SASNext: key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "next SAS mode")),
		SASPrev: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "prev SAS mode")),
		Navball: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "navball")),

		Camera: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "camera")),
		UIMode: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "UI mode")),
		Map:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "map")),
		Menu:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "menu")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

func (k controlKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.SAS, k.Stage, k.ThrottleFull, k.ThrottleCut, k.Help, k.Quit}
}

func (k controlKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Stop, k.Reset, k.Quit, k.Help},
		{k.SAS, k.RCS, k.Light, k.Gear, k.Brakes, k.Precise},
		{k.Stage, k.Abort, k.ActionGroup, k.SASNext, k.SASPrev, k.Navball},
		{k.ThrottleFull, k.ThrottleCut, k.ThrottleUp, k.ThrottleDown, k.ThrottleEnter},
		{k.Camera, k.UIMode, k.Map, k.Menu},
	}
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	client   *client.Client
	connInfo string

	keys          controlKeyMap
	help          help.Model
	throttleInput textinput.Model
	editing       bool

	// Refreshed from the client every viewRefresh
	state     client.State
	hostState kspio.HostState
	telemetry *kspio.VesselData
	controls  kspio.ControlPacket
	stats     kspio.Statistics
	dropped   uint64

	eventLog []logEntry

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type stateMsg struct {
	state client.State
}

type hostStateMsg struct {
	hostState kspio.HostState
}

type logMsg struct {
	text    string
	isError bool
}

type controlBatchMsg struct {
	messages []tea.Msg
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(c *client.Client, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "0-100"
	ti.CharLimit = 3
	ti.Width = 5
	ti.Prompt = "Throttle %: "

	m := controlModel{
		client:        c,
		connInfo:      connInfo,
		keys:          newControlKeyMap(),
		help:          help.New(),
		throttleInput: ti,
		width:         100,
		height:        30,
	}
	m.refresh()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(viewRefresh, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateThrottleInput(msg)
		}
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case controlTickMsg:
		m.refresh()
		return m, controlTickCmd()

	case controlBatchMsg:
		for _, inner := range msg.messages {
			m.apply(inner)
		}

	default:
		m.apply(msg)
	}

	return m, nil
}

// apply handles one notification forwarded from the client
func (m *controlModel) apply(msg tea.Msg) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = msg.state
		m.addLogEntry("State: "+msg.state.String(), false)
	case hostStateMsg:
		m.hostState = msg.hostState
		m.addLogEntry("Host: "+msg.hostState.String(), false)
	case logMsg:
		m.addLogEntry(msg.text, msg.isError)
	}
}

func (m *controlModel) refresh() {
	m.state = m.client.State()
	m.hostState = m.client.HostState()
	m.telemetry = m.client.Telemetry()
	m.controls = m.client.Controls().Snapshot()
	m.stats = m.client.Stats()
	m.dropped = m.client.Dropped()
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctl := m.client.Controls()
	k := m.keys

	switch {
	case key.Matches(msg, k.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, k.Start):
		m.client.Start()
	case key.Matches(msg, k.Stop):
		m.client.Stop()
	case key.Matches(msg, k.Reset):
		m.client.Reset()
		m.addLogEntry("Reset requested", false)
	case key.Matches(msg, k.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, k.SAS):
		ctl.ToggleSAS()
	case key.Matches(msg, k.RCS):
		ctl.ToggleRCS()
	case key.Matches(msg, k.Light):
		ctl.ToggleLight()
	case key.Matches(msg, k.Gear):
		ctl.ToggleGear()
	case key.Matches(msg, k.Brakes):
		ctl.ToggleBrakes()
	case key.Matches(msg, k.Precise):
		ctl.TogglePrecision()

	case key.Matches(msg, k.Stage):
		ctl.TriggerStage()
		m.addLogEntry("Stage", false)
	case key.Matches(msg, k.Abort):
		ctl.TriggerAbort()
		m.addLogEntry("ABORT", true)
	case key.Matches(msg, k.ActionGroup):
		ctl.ToggleActionGroup(actionGroupIndex(msg.String()))

	case key.Matches(msg, k.ThrottleFull):
		ctl.SetAxis(kspio.AxisThrottle, throttleMax)
	case key.Matches(msg, k.ThrottleCut):
		ctl.SetAxis(kspio.AxisThrottle, 0)
	case key.Matches(msg, k.ThrottleUp):
		stepThrottle(ctl, throttleStep)
	case key.Matches(msg, k.ThrottleDown):
		stepThrottle(ctl, -throttleStep)
	case key.Matches(msg, k.ThrottleEnter):
		m.editing = true
		m.throttleInput.SetValue("")
		cmd := m.throttleInput.Focus()
		return m, cmd

	case key.Matches(msg, k.SASNext):
		ctl.SetSASMode(nextSASMode(m.controls.SASMode(), 1))
	case key.Matches(msg, k.SASPrev):
		ctl.SetSASMode(nextSASMode(m.controls.SASMode(), -1))
	case key.Matches(msg, k.Navball):
		ctl.RotateNavballMode(m.telemetry != nil && m.telemetry.TargetSet())

	case key.Matches(msg, k.Camera):
		ctl.RotateCameraMode()
	case key.Matches(msg, k.UIMode):
		ctl.RotateUIMode()
	case key.Matches(msg, k.Map):
		ctl.ToggleMap()
	case key.Matches(msg, k.Menu):
		ctl.ToggleMenu()

	default:
		return m, nil
	}

	m.controls = ctl.Snapshot()
	return m, nil
}

func (m controlModel) updateThrottleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.throttleInput.Blur()
		return m, nil

	case tea.KeyEnter:
		m.editing = false
		m.throttleInput.Blur()
		pct, err := parseThrottlePercent(m.throttleInput.Value())
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		ctl := m.client.Controls()
		ctl.SetAxis(kspio.AxisThrottle, int16(pct*throttleMax/100))
		m.controls = ctl.Snapshot()
		return m, nil
	}

	var cmd tea.Cmd
	m.throttleInput, cmd = m.throttleInput.Update(msg)
	return m, cmd
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
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

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("KSPETH CONTROL"))
	s.WriteString(" ")
	stateStyle := warningStyle
	if m.state == client.StateActive {
		stateStyle = valueStyle
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | ", m.connInfo)))
	s.WriteString(stateStyle.Render(m.state.String()))
	s.WriteString("\n\n")

	panelWidth := (m.width - 8) / 3
	if panelWidth < 28 {
		panelWidth = 28
	}
	status := boxStyle.Width(panelWidth).Render(m.renderStatus(labelStyle, valueStyle, errorStyle))
	telemetry := boxStyle.Width(panelWidth).Render(m.renderTelemetry(labelStyle, valueStyle, headerStyle))
	controls := boxStyle.Width(panelWidth).Render(m.renderControls(labelStyle, valueStyle, warningStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, status, " ", telemetry, " ", controls))
	s.WriteString("\n")

	if m.editing {
		s.WriteString(m.throttleInput.View())
		s.WriteString(headerStyle.Render("  (enter to apply, esc to cancel)"))
		s.WriteString("\n")
	}

	s.WriteString(m.renderEventLog(labelStyle, headerStyle, warningStyle, errorStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderStatus(labelStyle, valueStyle, errorStyle lipgloss.Style) string {
	var s strings.Builder
	row := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(label), valueStyle.Render(value)))
	}

	s.WriteString(labelStyle.Render("LINK"))
	s.WriteString("\n")
	row("State:", m.state.String())
	row("Host:", m.hostState.String())
	row("Frames:", fmt.Sprintf("%s (%.1f/s)", humanize.Comma(int64(m.stats.ValidFrames)), m.stats.FrameRate))
	row("Bytes:", humanize.Bytes(m.stats.BytesReceived))

	errs := m.stats.TotalErrors()
	errText := fmt.Sprintf("%d", errs)
	if errs > 0 {
		errText = errorStyle.Render(errText)
	} else {
		errText = valueStyle.Render(errText)
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Errors:"), errText))
	row("Dropped:", fmt.Sprintf("%d", m.dropped))
	return strings.TrimRight(s.String(), "\n")
}

func (m controlModel) renderTelemetry(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("TELEMETRY"))
	s.WriteString("\n")

	v := m.telemetry
	if v == nil {
		s.WriteString(headerStyle.Render("No telemetry data"))
		return s.String()
	}

	row := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(label), valueStyle.Render(value)))
	}
	row("MET:", kspio.FormatMissionTime(-int64(v.MissionTime)))
	row("Alt:", fmt.Sprintf("%s (radar %s)", kspio.FormatDistance(v.Alt), kspio.FormatDistance(v.RAlt)))
	row("Speed:", fmt.Sprintf("%.1f m/s surf, %.1f m/s orb", v.VSurf, v.VOrbit))
	row("Vert:", fmt.Sprintf("%.1f m/s", v.VVI))
	row("AP:", fmt.Sprintf("%s in %s", kspio.FormatDistance(v.AP), kspio.FormatMissionTime(int64(v.TimeToAP))))
	row("PE:", fmt.Sprintf("%s in %s", kspio.FormatDistance(v.PE), kspio.FormatMissionTime(int64(v.TimeToPE))))
	row("Attitude:", fmt.Sprintf("P%.0f R%.0f H%.0f",
		kspio.AngleDegrees(v.Pitch), kspio.AngleDegrees(v.Roll), kspio.AngleDegrees(v.Heading)))
	row("Stage:", fmt.Sprintf("%d/%d", v.CurrentStage, v.TotalStage))
	row("Fuel:", fmt.Sprintf("LF %s  OX %s  EC %s",
		percent(v.LiquidFuel, v.LiquidFuelTot), percent(v.Oxidizer, v.OxidizerTot), percent(v.ECharge, v.EChargeTot)))
	row("SAS:", fmt.Sprintf("%s / navball %s", sasLabel(v), v.NavballMode()))
	if v.TargetSet() {
		row("Target:", fmt.Sprintf("%s at %.1f m/s", kspio.FormatDistance(v.TargetDist), v.TargetV))
	}
	if v.ManeuverSet() {
		row("Node:", fmt.Sprintf("%.1f m/s in %s", v.MNDeltaV, kspio.FormatMissionTime(int64(v.MNTime))))
	}
	return strings.TrimRight(s.String(), "\n")
}

func (m controlModel) renderControls(labelStyle, valueStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder
	c := m.controls

	s.WriteString(labelStyle.Render("CONTROLS"))
	s.WriteString("\n")

	sw := func(label string, on bool) string {
		if on {
			return valueStyle.Render(label)
		}
		return warningStyle.Faint(true).Render(strings.ToLower(label))
	}
	s.WriteString(strings.Join([]string{
		sw("SAS", c.SAS()), sw("RCS", c.RCS()), sw("LIGHT", c.Light()),
		sw("GEAR", c.Gear()), sw("BRAKE", c.Brakes()), sw("PREC", c.Precision()),
	}, " "))
	s.WriteString("\n")

	var groups []string
	for i := 0; i < kspio.CustomGroups; i++ {
		groups = append(groups, sw(strconv.Itoa((i+1)%10), c.ActionGroup(i)))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("AG:"), strings.Join(groups, " ")))

	throttle := int(c.Axis(kspio.AxisThrottle)) * 100 / throttleMax
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Throttle:"), valueStyle.Render(throttleBar(throttle))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("SAS mode:"), valueStyle.Render(c.SASMode().String())))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Navball:"), valueStyle.Render(c.NavballMode().String())))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Camera:"), valueStyle.Render(c.CameraMode().String())))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("UI:"), valueStyle.Render(c.UIMode().String())))
	s.WriteString(fmt.Sprintf("%s %d", labelStyle.Render("Sync:"), c.VesselSync))
	return s.String()
}

func (m controlModel) renderEventLog(labelStyle, headerStyle, warningStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(strings.TrimRight(s.String(), "\n"))
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

// actionGroupIndex maps keys 1-9 to groups 0-8 and 0 to group 9
func actionGroupIndex(k string) int {
	n, err := strconv.Atoi(k)
	if err != nil {
		return -1
	}
	if n == 0 {
		return 9
	}
	return n - 1
}

func stepThrottle(ctl *client.Controls, delta int) {
	v := int(ctl.Snapshot().Axis(kspio.AxisThrottle)) + delta
	if v < 0 {
		v = 0
	}
	if v > throttleMax {
		v = throttleMax
	}
	ctl.SetAxis(kspio.AxisThrottle, int16(v))
}

func nextSASMode(m kspio.SASMode, delta int) kspio.SASMode {
	const count = int(kspio.SASManeuver) + 1
	if m > kspio.SASManeuver {
		m = kspio.SASOff
	}
	return kspio.SASMode((int(m) + delta + count) % count)
}

func parseThrottlePercent(s string) (int, error) {
	pct, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pct < 0 || pct > 100 {
		return 0, fmt.Errorf("throttle must be 0-100, got %q", s)
	}
	return pct, nil
}

func percent(value, total float32) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", value*100/total)
}

func throttleBar(pct int) string {
	const width = 10
	filled := pct * width / 100
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), pct)
}
