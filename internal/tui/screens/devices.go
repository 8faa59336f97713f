package screens

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/bleprint/internal/printer"
)

// DevicesView scans for nearby printers and connects to the selected one
type DevicesView struct {
	app       *tview.Application
	discovery *printer.Discovery
	manager   *printer.Manager
	list      *tview.List
	details   *tview.TextView
	layout    *tview.Flex
	devices   []printer.PrinterDevice
	scanning  bool
}

// NewDevicesView creates a new devices view screen
func NewDevicesView(app *tview.Application, discovery *printer.Discovery, manager *printer.Manager) *DevicesView {
	d := &DevicesView{
		app:       app,
		discovery: discovery,
		manager:   manager,
	}

	d.setupUI()
	return d
}

func (d *DevicesView) setupUI() {
	d.list = tview.NewList()
	d.list.SetBorder(true)
	d.list.SetTitle("Nearby Printers")
	d.list.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		d.connect(index)
	})
	d.list.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		d.showDevice(index)
	})

	d.details = tview.NewTextView()
	d.details.SetBorder(true)
	d.details.SetTitle("Device Details")
	d.details.SetDynamicColors(true)
	d.details.SetText("[yellow]Press 's' to scan, Enter to connect[white]")

	d.layout = tview.NewFlex().
		AddItem(d.list, 0, 1, true).
		AddItem(d.details, 0, 2, false)

	d.list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune && event.Rune() == 's' {
			d.Scan()
			return nil
		}
		return event
	})
}

// Scan lists nearby printers in the background.
func (d *DevicesView) Scan() {
	if d.scanning {
		return
	}
	d.scanning = true
	d.list.Clear()
	d.details.SetText("[yellow]Scanning...[white]")

	go func() {
		devices, err := d.discovery.List(context.Background())
		d.app.QueueUpdateDraw(func() {
			d.scanning = false
			d.devices = devices
			d.render(err)
		})
	}()
}

func (d *DevicesView) render(err error) {
	d.list.Clear()
	if err != nil {
		d.list.AddItem("Scan failed", err.Error(), 0, nil)
		d.details.SetText(fmt.Sprintf("[red]✗ %s[white]", tview.Escape(err.Error())))
		return
	}
	if len(d.devices) == 0 {
		d.list.AddItem("No printers found", "press 's' to scan again", 0, nil)
		d.details.SetText("[yellow]No printers in range[white]")
		return
	}

	for _, dev := range d.devices {
		name := dev.Name
		if name == "" {
			name = dev.Address
		}
		d.list.AddItem(name, fmt.Sprintf("%s • %d dBm", dev.Address, dev.RSSI), 0, nil)
	}
	d.list.SetCurrentItem(0)
	d.showDevice(0)
}

func (d *DevicesView) showDevice(index int) {
	if index < 0 || index >= len(d.devices) {
		return
	}
	dev := d.devices[index]
	d.details.SetText(fmt.Sprintf(`[yellow]Name:[white] %s
[yellow]Address:[white] %s
[yellow]RSSI:[white] %d dBm

[yellow]Press Enter to connect`,
		tview.Escape(dev.Name), dev.Address, dev.RSSI))
}

func (d *DevicesView) connect(index int) {
	if index < 0 || index >= len(d.devices) {
		return
	}
	dev := d.devices[index]
	d.details.SetText(fmt.Sprintf("[yellow]Connecting to %s...[white]", dev.Address))

	go func() {
		err := d.manager.Connect(context.Background(), dev)
		d.app.QueueUpdateDraw(func() {
			if err != nil {
				d.details.SetText(fmt.Sprintf("[red]✗ Connect failed:[white] %s", tview.Escape(err.Error())))
				return
			}
			link, _ := d.manager.Link()
			d.details.SetText(fmt.Sprintf("[green]✓ Connected[white]\n\n[yellow]Profile:[white] %s\n[yellow]Characteristic:[white] %s",
				link.Candidate.Profile, link.Candidate.Characteristic))
		})
	}()
}

// GetRoot returns the root primitive for this screen
func (d *DevicesView) GetRoot() tview.Primitive {
	return d.layout
}
