package screens

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/registry"
)

// RegistryEditor is a screen for renaming, forgetting and reconnecting
// remembered printers
type RegistryEditor struct {
	app              *tview.Application
	registry         *registry.Registry
	manager          *printer.Manager
	form             *tview.Form
	list             *tview.List
	details          *tview.TextView
	layout           *tview.Flex
	entries          []*registry.PrinterEntry
	currentPrinterID string
}

// NewRegistryEditor creates a new registry editor screen
func NewRegistryEditor(app *tview.Application, reg *registry.Registry, manager *printer.Manager) *RegistryEditor {
	r := &RegistryEditor{
		app:      app,
		registry: reg,
		manager:  manager,
	}

	r.setupUI()
	return r
}

func (r *RegistryEditor) setupUI() {
	r.list = tview.NewList()
	r.list.SetBorder(true)
	r.list.SetTitle("Remembered Printers")
	r.list.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		r.selectPrinter(index)
	})

	r.details = tview.NewTextView()
	r.details.SetBorder(true)
	r.details.SetTitle("Printer Details")
	r.details.SetDynamicColors(true)

	r.form = tview.NewForm()
	r.form.SetBorder(true)
	r.form.SetTitle("Edit Printer Name")
	r.form.AddInputField("Name", "", 30, nil, nil)
	r.form.AddButton("Save", func() {
		r.savePrinterName()
	})
	r.form.AddButton("Cancel", func() {
		r.app.SetFocus(r.list)
	})

	rightPanel := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(r.details, 0, 1, false).
		AddItem(r.form, 0, 1, true)

	r.layout = tview.NewFlex().
		AddItem(r.list, 0, 1, true).
		AddItem(rightPanel, 0, 2, false)

	r.list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'r':
			r.Refresh()
			return nil
		case 'e':
			if r.selectPrinter(r.list.GetCurrentItem()) {
				r.app.SetFocus(r.form)
			}
			return nil
		case 'c':
			r.connect(r.list.GetCurrentItem())
			return nil
		case 'x':
			r.forget(r.list.GetCurrentItem())
			return nil
		}
		return event
	})

	r.Refresh()
}

// Refresh reloads the remembered printers, most recent first.
func (r *RegistryEditor) Refresh() {
	r.list.Clear()
	r.entries = r.registry.GetAll()

	if len(r.entries) == 0 {
		r.list.AddItem("No remembered printers", "connect once to remember a printer", 0, nil)
		return
	}

	current := ""
	if link, ok := r.manager.Link(); ok {
		current = link.PrinterID
	}
	for _, e := range r.entries {
		status := "⚪"
		if e.ID == current {
			status = "🟢"
		}
		r.list.AddItem(fmt.Sprintf("%s %s", status, e.DisplayName()), e.Address+" • "+e.Profile, 0, nil)
	}
}

func (r *RegistryEditor) entry(index int) *registry.PrinterEntry {
	if index < 0 || index >= len(r.entries) {
		return nil
	}
	return r.entries[index]
}

func (r *RegistryEditor) selectPrinter(index int) bool {
	e := r.entry(index)
	if e == nil {
		return false
	}

	r.details.SetText(fmt.Sprintf(`[yellow]ID:[white] %s
[yellow]Address:[white] %s
[yellow]Advertised:[white] %s
[yellow]Name:[white] %s
[yellow]Profile:[white] %s
[yellow]Service:[white] %s
[yellow]Characteristic:[white] %s
[yellow]Last connected:[white] %s

[yellow]'e' edit name, 'c' connect, 'x' forget`,
		e.ID,
		e.Address,
		tview.Escape(e.AdvertisedName),
		tview.Escape(e.Name),
		e.Profile,
		e.Service,
		e.Characteristic,
		e.LastConnected.Format("2006-01-02 15:04:05")))

	r.form.GetFormItem(0).(*tview.InputField).SetText(e.Name)
	r.currentPrinterID = e.ID
	return true
}

func (r *RegistryEditor) savePrinterName() {
	if r.currentPrinterID == "" {
		r.details.SetText("[red]✗ No printer selected[white]")
		return
	}

	newName := strings.TrimSpace(r.form.GetFormItem(0).(*tview.InputField).GetText())
	if err := r.registry.SetPrinterName(r.currentPrinterID, newName); err != nil {
		r.details.SetText(fmt.Sprintf("[red]✗ Failed to update printer name:[white] %s", tview.Escape(err.Error())))
		return
	}

	r.Refresh()
	for i, e := range r.entries {
		if e.ID == r.currentPrinterID {
			r.list.SetCurrentItem(i)
			r.selectPrinter(i)
			break
		}
	}
	r.app.SetFocus(r.list)
}

func (r *RegistryEditor) forget(index int) {
	e := r.entry(index)
	if e == nil {
		return
	}
	if err := r.registry.RemovePrinter(e.ID); err != nil {
		r.details.SetText(fmt.Sprintf("[red]✗ %s[white]", tview.Escape(err.Error())))
		return
	}
	r.currentPrinterID = ""
	r.Refresh()
	r.details.SetText(fmt.Sprintf("[green]✓ Forgot %s[white]", tview.Escape(e.DisplayName())))
}

// connect runs off the UI goroutine; the outcome is drawn when it returns.
func (r *RegistryEditor) connect(index int) {
	e := r.entry(index)
	if e == nil {
		return
	}
	r.details.SetText(fmt.Sprintf("[yellow]Connecting to %s...[white]", e.Address))

	go func() {
		err := r.manager.ConnectAddress(context.Background(), e.Address)

		r.app.QueueUpdateDraw(func() {
			if err != nil {
				r.details.SetText(fmt.Sprintf("[red]✗ Connect failed:[white] %s", tview.Escape(err.Error())))
				return
			}
			r.Refresh()
			r.details.SetText(fmt.Sprintf("[green]✓ Connected to %s[white]", tview.Escape(e.DisplayName())))
		})
	}()
}

// GetRoot returns the root primitive for this screen
func (r *RegistryEditor) GetRoot() tview.Primitive {
	return r.layout
}
