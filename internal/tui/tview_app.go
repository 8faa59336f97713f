// Package tui is the terminal dashboard shown by the server when it runs
// attached to a terminal.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/bleprint/internal/command"
	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/registry"
	"github.com/thereceipt/bleprint/internal/tui/screens"
)

const maxLogLines = 500

// TViewApp is the main TUI application using tview
type TViewApp struct {
	App      *tview.Application
	service  *printer.Service
	registry *registry.Registry
	executor *command.Executor
	addr     string

	flex *tview.Flex

	printersList *tview.List
	jobsTable    *tview.Table
	statusBox    *tview.TextView
	logsArea     *tview.TextView
	commandInput *tview.InputField

	startTime time.Time

	// statusChanged coalesces publisher notifications into one redraw.
	statusChanged chan struct{}
	done          chan struct{}
	stopOnce      sync.Once

	currentScreen  string // "main", "registry", "devices", "jobs", "print"
	registryScreen *screens.RegistryEditor
	devicesScreen  *screens.DevicesView
	jobsScreen     *screens.JobsView
	printScreen    *screens.PrintBuilder
}

// NewTViewApp creates the dashboard. addr is the API listen address shown
// in the status panel.
func NewTViewApp(service *printer.Service, discovery *printer.Discovery, reg *registry.Registry, addr string) *TViewApp {
	app := tview.NewApplication()

	t := &TViewApp{
		App:           app,
		service:       service,
		registry:      reg,
		executor:      command.NewExecutor(service, discovery, reg),
		addr:          addr,
		startTime:     time.Now(),
		statusChanged: make(chan struct{}, 1),
		done:          make(chan struct{}),
		currentScreen: "main",
	}

	t.setupUI()
	t.registryScreen = screens.NewRegistryEditor(app, reg, service.Manager())
	t.devicesScreen = screens.NewDevicesView(app, discovery, service.Manager())
	t.jobsScreen = screens.NewJobsView(app, service.Jobs())
	t.printScreen = screens.NewPrintBuilder(app, service)
	return t
}

func (t *TViewApp) setupUI() {
	t.printersList = tview.NewList()
	t.printersList.SetBorder(true)
	t.printersList.SetTitle("Remembered Printers")

	t.jobsTable = tview.NewTable()
	t.jobsTable.SetBorder(true)
	t.jobsTable.SetTitle("Recent Jobs")

	t.statusBox = tview.NewTextView()
	t.statusBox.SetBorder(true)
	t.statusBox.SetTitle("Printer Status")
	t.statusBox.SetDynamicColors(true)

	t.logsArea = tview.NewTextView()
	t.logsArea.SetBorder(true)
	t.logsArea.SetTitle("Server Logs")
	t.logsArea.SetDynamicColors(true)
	t.logsArea.SetScrollable(true)
	t.logsArea.SetMaxLines(maxLogLines)
	t.logsArea.SetChangedFunc(func() {
		t.App.Draw()
	})

	t.commandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0).
		SetPlaceholder("Type a command (e.g., 'help')").
		SetDoneFunc(func(key tcell.Key) {
			if key == tcell.KeyEnter {
				t.executeCommand(t.commandInput.GetText())
				t.commandInput.SetText("")
			}
		})

	topRow := tview.NewFlex().
		AddItem(t.statusBox, 0, 1, false).
		AddItem(t.printersList, 0, 1, false).
		AddItem(t.jobsTable, 0, 1, false)

	bottom := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.logsArea, 0, 3, false).
		AddItem(t.commandInput, 1, 0, true)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, false).
		AddItem(bottom, 0, 1, false)

	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if t.currentScreen != "main" {
			if event.Key() == tcell.KeyEsc {
				t.showMainScreen()
				return nil
			}
			return event
		}

		// Shortcuts are letters, so they only apply while the command
		// input is unfocused.
		if t.commandInput.HasFocus() {
			if event.Key() == tcell.KeyEsc {
				t.App.SetFocus(t.printersList)
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyCtrlC, tcell.KeyEsc:
			t.App.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case ':':
				t.App.SetFocus(t.commandInput)
				return nil
			case 'q':
				t.App.Stop()
				return nil
			case 'r':
				t.showScreen("registry")
				return nil
			case 'd':
				t.showScreen("devices")
				return nil
			case 'j':
				t.showScreen("jobs")
				return nil
			case 'p':
				t.showScreen("print")
				return nil
			}
		}
		return event
	})

	t.App.SetRoot(t.flex, true)
}

// Run starts the TUI and blocks until the user quits.
func (t *TViewApp) Run() error {
	unsubscribe := t.service.Manager().Publisher().Subscribe(func(printer.Status) {
		// Called with printer locks held: signal only.
		select {
		case t.statusChanged <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	defer t.stopOnce.Do(func() { close(t.done) })

	t.refreshAll()
	go t.refreshLoop()

	t.AddLog("BLE print server starting...", "info")

	return t.App.Run()
}

// Stop quits the TUI.
func (t *TViewApp) Stop() {
	t.App.Stop()
}

func (t *TViewApp) refreshLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.statusChanged:
		case <-ticker.C:
		}
		t.App.QueueUpdateDraw(t.refreshAll)
	}
}

func (t *TViewApp) refreshAll() {
	t.refreshStatus()
	t.refreshPrinters()
	t.refreshJobs()
}

func (t *TViewApp) refreshPrinters() {
	t.printersList.Clear()

	entries := t.registry.GetAll()
	if len(entries) == 0 {
		t.printersList.AddItem("No remembered printers", "press 'd' to scan", 0, nil)
		return
	}

	current := ""
	if link, ok := t.service.Manager().Link(); ok {
		current = link.PrinterID
	}
	for _, e := range entries {
		status := "⚪"
		if e.ID == current {
			status = "🟢"
		}
		t.printersList.AddItem(fmt.Sprintf("%s %s", status, e.DisplayName()), e.Address+" • "+e.Profile, 0, nil)
	}
}

func (t *TViewApp) refreshJobs() {
	t.jobsTable.Clear()

	for col, h := range []string{"Status", "Kind", "Commands", "Age"} {
		t.jobsTable.SetCell(0, col, tview.NewTableCell(h).SetAlign(tview.AlignCenter).SetSelectable(false))
	}

	var completed, partial, failed int
	jobs := t.service.Jobs().GetAllJobs()
	for i, job := range jobs {
		row := i + 1
		t.jobsTable.SetCell(row, 0, tview.NewTableCell(screens.StatusIcon(job.Status)+" "+string(job.Status)))
		t.jobsTable.SetCell(row, 1, tview.NewTableCell(string(job.Kind)))
		t.jobsTable.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d/%d", job.Commands-job.Failed, job.Commands)))
		t.jobsTable.SetCell(row, 3, tview.NewTableCell(time.Since(job.StartedAt).Truncate(time.Second).String()))

		switch job.Status {
		case printer.JobCompleted:
			completed++
		case printer.JobPartial:
			partial++
		case printer.JobFailed:
			failed++
		}
	}

	if len(jobs) > 0 {
		summary := fmt.Sprintf("[%d] Completed [%d] Partial [%d] Failed", completed, partial, failed)
		t.jobsTable.SetCell(len(jobs)+1, 0, tview.NewTableCell(tview.Escape(summary)).SetSelectable(false))
	}
}

func (t *TViewApp) refreshStatus() {
	m := t.service.Manager()
	st := m.Status()

	var b strings.Builder
	b.WriteString(StatusLine(st))
	b.WriteString("\n\n")
	if link, ok := m.Link(); ok {
		name := t.registry.GetPrinterName(link.PrinterID)
		if name == "" {
			name = link.Device.Name
		}
		fmt.Fprintf(&b, "Printer: %s\nAddress: %s\nProfile: %s\n", tview.Escape(name), link.Device.Address, link.Candidate.Profile)
	}
	if st.Error != "" {
		fmt.Fprintf(&b, "[red]%s[white]\n", tview.Escape(st.Error))
	}

	uptime := time.Since(t.startTime)
	fmt.Fprintf(&b, "\nUptime: %dh %dm\nAPI: %s\nJobs: %d",
		int(uptime.Hours()), int(uptime.Minutes())%60, t.addr, len(t.service.Jobs().GetAllJobs()))

	t.statusBox.SetText(b.String())
}

// StatusLine renders the connection state with tview color tags.
func StatusLine(st printer.Status) string {
	switch st.State {
	case printer.StateConnected:
		return "[green]🟢 Connected[white]"
	case printer.StatePrinting:
		return "[yellow]🟡 Printing[white]"
	case printer.StateConnecting:
		return "[yellow]⏳ Connecting[white]"
	case printer.StateError:
		return "[red]❌ Error[white]"
	default:
		return "[gray]⚪ Disconnected[white]"
	}
}

// executeCommand routes built-in navigation commands and hands the rest to
// the command executor. Those may scan or print, so they run off the UI
// goroutine.
func (t *TViewApp) executeCommand(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}

	t.AddLog("> "+cmd, "command")

	switch strings.ToLower(strings.Fields(cmd)[0]) {
	case "registry":
		t.showScreen("registry")
		return
	case "devices":
		t.showScreen("devices")
		return
	case "jobs":
		t.showScreen("jobs")
		return
	case "clear":
		t.logsArea.Clear()
		return
	case "quit", "exit":
		t.App.Stop()
		return
	}

	go func() {
		res := t.executor.Execute(context.Background(), cmd)
		if !res.Success {
			t.AddLog(res.Error, "error")
		} else if res.Message != "" {
			t.AddLog(res.Message, "info")
		}
		t.App.QueueUpdateDraw(t.refreshAll)
	}()
}

func (t *TViewApp) showScreen(screenName string) {
	t.currentScreen = screenName

	var root tview.Primitive
	switch screenName {
	case "registry":
		t.registryScreen.Refresh()
		root = t.registryScreen.GetRoot()
	case "devices":
		root = t.devicesScreen.GetRoot()
	case "jobs":
		t.jobsScreen.Refresh()
		root = t.jobsScreen.GetRoot()
	case "print":
		root = t.printScreen.GetRoot()
	default:
		t.showMainScreen()
		return
	}
	t.App.SetRoot(root, true)
	t.App.SetFocus(root)
}

func (t *TViewApp) showMainScreen() {
	t.currentScreen = "main"
	t.refreshAll()
	t.App.SetRoot(t.flex, true)
	t.App.SetFocus(t.printersList)
}

// AddLog appends a line to the logs panel. Safe from any goroutine.
func (t *TViewApp) AddLog(message string, level string) {
	var color, icon string

	switch level {
	case "error":
		color, icon = "[red]", "❌"
	case "warning":
		color, icon = "[yellow]", "⚠️"
	case "command":
		color, icon = "[cyan]", ">"
	default:
		color, icon = "[white]", "ℹ️"
	}

	fmt.Fprintf(t.logsArea, "%s[%s] %s %s[white]\n", color, time.Now().Format("15:04:05"), icon, tview.Escape(message))
	t.logsArea.ScrollToEnd()
}

// LogWriter returns an io.Writer that feeds the logs panel, for use as a
// logger core.
func (t *TViewApp) LogWriter() io.Writer {
	return &tviewLogWriter{app: t}
}

type tviewLogWriter struct {
	app *TViewApp
}

func (w *tviewLogWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		level := "info"
		switch {
		case strings.HasPrefix(line, "ERROR"), strings.HasPrefix(line, "FATAL"):
			level = "error"
		case strings.HasPrefix(line, "WARN"):
			level = "warning"
		}
		w.app.AddLog(line, level)
	}
	return len(p), nil
}
