package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

const (
	defaultServerURL = "http://localhost:12212"
)

func main() {
	var serverURL string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(serverURL)
	if err := run(c, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// run dispatches one CLI invocation. Commands without a dedicated
// endpoint go through the server's command executor.
func run(c *client, args []string) error {
	switch args[0] {
	case "status":
		st, err := c.Status()
		if err != nil {
			return err
		}
		printStatus(st)

	case "scan":
		devices, err := c.Scan()
		if err != nil {
			return err
		}
		printDevices(devices)

	case "connect":
		target := strings.Join(args[1:], " ")
		st, err := c.Connect(target)
		if err != nil {
			return err
		}
		printStatus(st)

	case "disconnect":
		if err := c.Disconnect(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ Disconnected"))

	case "print":
		if len(args) >= 2 && args[1] == "--compose" {
			return c.passthrough(args)
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: print <receipt.json> | print --compose <commands...>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		job, err := c.Print(data)
		if job != nil {
			printJob(job)
		}
		return err

	case "preview":
		if len(args) != 2 {
			return fmt.Errorf("usage: preview <receipt.json>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		text, err := c.Preview(data)
		if err != nil {
			return err
		}
		fmt.Print(previewStyle.Render(strings.TrimRight(text, "\n")) + "\n")

	case "selftest":
		job, err := c.SelfTest()
		if job != nil {
			printJob(job)
		}
		return err

	case "jobs":
		jobs, err := c.Jobs()
		if err != nil {
			return err
		}
		printJobs(jobs)

	case "printers":
		printers, err := c.Printers()
		if err != nil {
			return err
		}
		printPrinters(printers)

	case "rename":
		if len(args) < 3 {
			return fmt.Errorf("usage: rename <printer-id> <name>")
		}
		if err := c.Rename(args[1], strings.Join(args[2:], " ")); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ Printer renamed"))

	default:
		return c.passthrough(args)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s

Usage:
  bleprint-cli [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)

Commands:
  status                       Show the printer connection status
  scan                         List nearby Bluetooth printers
  connect [address|name]       Connect (strongest printer in range when empty)
  disconnect                   Close the printer connection
  print <receipt.json>         Print a receipt descriptor
  print --compose <commands>   Print raw commands (see 'help')
  preview <receipt.json>       Show a receipt as plain text without printing
  selftest                     Print the self-test page
  jobs                         List recent print jobs
  printers                     List remembered printers
  rename <id> <name>           Set a custom name for a printer
  help                         Show the server's command help

Examples:
  bleprint-cli connect MTP-II
  bleprint-cli print ./receipt.json
  bleprint-cli print --compose align:center text:"Hello" feed:2 cut
  bleprint-cli -s http://10.0.0.5:12212 status

`, titleStyle.Render("BLE Print CLI"), defaultServerURL)
}
