package screens

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/receipt"
	"github.com/thereceipt/bleprint/pkg/receiptformat"
)

// PrintBuilder is a screen for previewing and printing receipt files
type PrintBuilder struct {
	app       *tview.Application
	service   *printer.Service
	form      *tview.Form
	fileInput *tview.InputField
	preview   *tview.TextView
	layout    *tview.Flex
	receipt   *receiptformat.Receipt
	printing  bool
}

// NewPrintBuilder creates a new print builder screen
func NewPrintBuilder(app *tview.Application, service *printer.Service) *PrintBuilder {
	p := &PrintBuilder{
		app:     app,
		service: service,
	}

	p.setupUI()
	return p
}

func (p *PrintBuilder) setupUI() {
	p.fileInput = tview.NewInputField()
	p.fileInput.SetLabel("Receipt File: ")
	p.fileInput.SetPlaceholder("/path/to/receipt.json")

	p.preview = tview.NewTextView()
	p.preview.SetBorder(true)
	p.preview.SetTitle("Preview")
	p.preview.SetDynamicColors(true)
	p.preview.SetScrollable(true)

	p.form = tview.NewForm()
	p.form.SetBorder(true)
	p.form.SetTitle("Print Receipt")
	p.form.AddFormItem(p.fileInput)
	p.form.AddButton("Load Receipt", func() {
		p.loadReceipt()
	})
	p.form.AddButton("Print", func() {
		p.printReceipt()
	})
	p.form.AddButton("Self-test", func() {
		p.start(func() (*printer.JobResult, error) { return p.service.PrintSelfTest() })
	})

	p.layout = tview.NewFlex().
		AddItem(p.form, 0, 1, true).
		AddItem(p.preview, 0, 1, false)
}

func (p *PrintBuilder) loadReceipt() {
	filePath := strings.TrimSpace(p.fileInput.GetText())
	if filePath == "" {
		p.preview.SetText("[red]Please enter a receipt file path[white]")
		return
	}

	r, err := receiptformat.ParseFile(filePath)
	if err != nil {
		p.preview.SetText(fmt.Sprintf("[red]Error loading receipt: %s[white]", tview.Escape(err.Error())))
		return
	}

	cmds, err := p.service.Compile(r)
	if err != nil {
		p.preview.SetText(fmt.Sprintf("[red]%s[white]", tview.Escape(err.Error())))
		return
	}
	p.receipt = r

	width, _ := receipt.LineLength(p.service.Settings().PaperWidth)
	var b strings.Builder
	fmt.Fprintf(&b, "[green]✓ Receipt loaded[white] (%d commands)\n\n", len(cmds))
	b.WriteString(tview.Escape(receipt.PlainText(cmds, width)))
	p.preview.SetText(b.String())
	p.preview.ScrollToBeginning()
}

func (p *PrintBuilder) printReceipt() {
	if p.receipt == nil {
		p.preview.SetText("[red]Please load a receipt first[white]")
		return
	}
	r := p.receipt
	p.start(func() (*printer.JobResult, error) { return p.service.PrintReceipt(r) })
}

// start runs a job off the UI goroutine and draws the result.
func (p *PrintBuilder) start(job func() (*printer.JobResult, error)) {
	if p.printing {
		return
	}
	p.printing = true
	p.preview.SetText("[yellow]Printing...[white]")

	go func() {
		res, err := job()
		p.app.QueueUpdateDraw(func() {
			p.printing = false
			switch {
			case res != nil:
				p.preview.SetText(JobDetails(res))
			case err != nil:
				p.preview.SetText(fmt.Sprintf("[red]✗ %s[white]", tview.Escape(err.Error())))
			}
		})
	}()
}

// GetRoot returns the root primitive for this screen
func (p *PrintBuilder) GetRoot() tview.Primitive {
	return p.layout
}
