package command

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/bleprint/internal/escpos"
	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/pkg/receiptformat"
)

var addressPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$|^[0-9A-Fa-f]{8}-([0-9A-Fa-f]{4}-){3}[0-9A-Fa-f]{12}$`)

// handlePrint handles print commands
// Usage: print <receipt-path|url> | print --compose <commands...>
func (e *Executor) handlePrint(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: print <receipt-path|url> | print --compose <commands...>")
	}

	if args[0] == "--compose" {
		cmds, err := compose(args[1:])
		if err != nil {
			return failure("%v", err)
		}
		res, err := e.service.Execute(cmds)
		return jobResult(res, err)
	}

	receipt, err := loadReceipt(args[0])
	if err != nil {
		return failure("failed to load receipt: %v", err)
	}

	res, err := e.service.PrintReceipt(receipt)
	return jobResult(res, err)
}

func (e *Executor) handleSelfTest() *Result {
	res, err := e.service.PrintSelfTest()
	return jobResult(res, err)
}

func jobResult(res *printer.JobResult, err error) *Result {
	if res == nil {
		return failure("print failed: %v", err)
	}
	out := &Result{
		Success: err == nil,
		Message: fmt.Sprintf("Job %s %s: %d chunk(s), %d byte(s)", res.ID, res.Status, res.Chunks, res.Bytes),
		Data:    map[string]interface{}{"job": res},
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// handleScan lists nearby printers
// Usage: scan
func (e *Executor) handleScan(ctx context.Context) *Result {
	devices, err := e.discovery.List(ctx)
	if err != nil {
		return failure("scan failed: %v", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Found %d printer(s)", len(devices)),
		Data:    map[string]interface{}{"devices": devices},
	}
}

// handleConnect connects by address, or scans and picks by name
// Usage: connect <address|name>
func (e *Executor) handleConnect(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return failure("usage: connect <address|name>")
	}
	target := strings.Join(args, " ")
	m := e.service.Manager()

	var err error
	if addressPattern.MatchString(target) {
		err = m.ConnectAddress(ctx, target)
	} else {
		var dev printer.PrinterDevice
		dev, err = e.discovery.Scan(ctx, printer.ChooseByName(target))
		if err == nil {
			err = m.Connect(ctx, dev)
		}
	}
	if err != nil {
		return failure("connect failed: %v", err)
	}

	link, _ := m.Link()
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Connected to %s via %s", link.Device.Address, link.Candidate.Profile),
		Data:    map[string]interface{}{"link": link},
	}
}

func (e *Executor) handleDisconnect() *Result {
	if err := e.service.Manager().Disconnect(); err != nil {
		return failure("disconnect failed: %v", err)
	}
	return &Result{Success: true, Message: "Disconnected"}
}

func (e *Executor) handleStatus() *Result {
	m := e.service.Manager()
	st := m.Status()
	data := map[string]interface{}{"status": st}
	msg := st.State.String()
	if link, ok := m.Link(); ok {
		data["link"] = link
		msg = fmt.Sprintf("%s to %s", msg, link.Device.Address)
	}
	if st.Error != "" {
		msg += " (" + st.Error + ")"
	}
	return &Result{Success: true, Message: msg, Data: data}
}

// handlePrinter handles printer commands
// Usage: printer list | rename <id> <name> | forget <id>
func (e *Executor) handlePrinter(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: printer <list|rename|forget>")
	}

	subcommand := args[0]

	switch subcommand {
	case "list":
		printers := e.registry.GetAll()
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Remembered %d printer(s)", len(printers)),
			Data:    map[string]interface{}{"printers": printers},
		}

	case "rename":
		if len(args) < 3 {
			return failure("usage: printer rename <id> <name>")
		}
		printerID := args[1]
		name := strings.Join(args[2:], " ")
		if err := e.registry.SetPrinterName(printerID, name); err != nil {
			return failure("%v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Renamed printer %s to %s", printerID, name),
		}

	case "forget":
		if len(args) < 2 {
			return failure("usage: printer forget <id>")
		}
		if err := e.registry.RemovePrinter(args[1]); err != nil {
			return failure("%v", err)
		}
		return &Result{Success: true, Message: fmt.Sprintf("Forgot printer %s", args[1])}

	default:
		return failure("unknown printer subcommand: %s. Use: list, rename, forget", subcommand)
	}
}

// handleJob handles job commands
// Usage: job list | status <id> | clear
func (e *Executor) handleJob(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: job <list|status|clear>")
	}

	jobs := e.service.Jobs()

	switch args[0] {
	case "list":
		all := jobs.GetAllJobs()
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d job(s)", len(all)),
			Data:    map[string]interface{}{"jobs": all},
		}

	case "status":
		if len(args) < 2 {
			return failure("usage: job status <id>")
		}
		job := jobs.GetJob(args[1])
		if job == nil {
			return failure("job not found: %s", args[1])
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Job %s %s", job.ID, job.Status),
			Data:    map[string]interface{}{"job": job},
		}

	case "clear":
		jobs.ClearCompleted()
		return &Result{Success: true, Message: "Cleared completed jobs"}

	default:
		return failure("unknown job subcommand: %s. Use: list, status, clear", args[0])
	}
}

// handleHelp handles help command
func (e *Executor) handleHelp() *Result {
	helpText := `Available Commands:

  status
    Show the connection status

  scan
    List nearby Bluetooth printers

  connect <address|name>
    Connect by address, or scan and connect to the first name match

  disconnect
    Close the printer connection

  print <receipt-path|url>
    Print a receipt descriptor (JSON)

  print --compose <commands...>
    Print raw commands: text:<s> align:<left|center|right> size:<normal|wide|tall|double>
    bold:<on|off> feed:<n> cut[:full|partial] drawer

  selftest
    Print the self-test page

  printer list | rename <id> <name> | forget <id>
    Manage remembered printers

  job list | status <id> | clear
    Inspect recent print jobs

  help
    Show this help message

Examples:
  connect MTP-II
  connect 66:22:B3:0A:11:7C
  print ./receipt.json
  print --compose align:center bold:on text:"Hello World" bold:off feed:2 cut
  printer rename 3f2c... "Front Counter"
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}

// compose turns "kind:value" tokens into commands.
func compose(tokens []string) ([]escpos.Command, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("usage: print --compose <commands...>")
	}

	var cmds []escpos.Command
	for _, tok := range tokens {
		kind, value, _ := strings.Cut(tok, ":")
		switch strings.ToLower(kind) {
		case "text":
			cmds = append(cmds, escpos.Text(value+"\n"))
		case "align":
			a, ok := map[string]escpos.Alignment{"left": escpos.AlignLeft, "center": escpos.AlignCenter, "right": escpos.AlignRight}[value]
			if !ok {
				return nil, fmt.Errorf("invalid alignment %q", value)
			}
			cmds = append(cmds, escpos.Align(a))
		case "size":
			s, ok := map[string]escpos.Size{"normal": escpos.SizeNormal, "wide": escpos.SizeWide, "tall": escpos.SizeTall, "double": escpos.SizeDouble}[value]
			if !ok {
				return nil, fmt.Errorf("invalid size %q", value)
			}
			cmds = append(cmds, escpos.SetSize(s))
		case "bold":
			cmds = append(cmds, escpos.Bold(value != "off"))
		case "feed":
			n := 1
			if value != "" {
				var err error
				if n, err = strconv.Atoi(value); err != nil {
					return nil, fmt.Errorf("invalid feed count %q", value)
				}
			}
			cmds = append(cmds, escpos.Feed(n))
		case "cut":
			ct := escpos.CutPartial
			if value != "" {
				var err error
				if ct, err = escpos.ParseCutType(value); err != nil {
					return nil, err
				}
			}
			cmds = append(cmds, escpos.Cut(ct))
		case "drawer":
			cmds = append(cmds, escpos.DrawerKick())
		default:
			return nil, fmt.Errorf("unknown compose command %q", tok)
		}
	}
	return cmds, nil
}

// loadReceipt reads a descriptor from a file path or an http(s) URL.
func loadReceipt(src string) (*receiptformat.Receipt, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return loadReceiptFromURL(src)
	}
	return receiptformat.ParseFile(src)
}

// loadReceiptFromURL loads a receipt from a URL
func loadReceiptFromURL(url string) (*receiptformat.Receipt, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch receipt: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt from URL: %w", err)
	}

	return receiptformat.Parse(data)
}
