package printer

import (
	"errors"
	"fmt"

	"github.com/thereceipt/bleprint/internal/escpos"
)

var (
	// ErrBluetoothUnavailable means no radio or BLE API is present.
	ErrBluetoothUnavailable = errors.New("bluetooth unavailable")
	// ErrUserCancelled means device selection was dismissed without a choice.
	ErrUserCancelled = errors.New("printer selection cancelled")
	// ErrNoDeviceFound means the scan window closed with no candidate printers.
	ErrNoDeviceFound = errors.New("no printer found")
	// ErrUnsupportedDevice means no service/characteristic candidate resolved.
	ErrUnsupportedDevice = errors.New("unsupported device: no known printer service/characteristic")
	// ErrConnectTimeout means the GATT connect and probe did not finish in time.
	ErrConnectTimeout = errors.New("printer connect timed out")
	// ErrNotConnected means no printer has been connected.
	ErrNotConnected = errors.New("printer not connected")
	// ErrConnectionLost means the link dropped before or during an operation.
	ErrConnectionLost = errors.New("printer connection lost")
	// ErrCommunication means every write mode failed for a chunk.
	ErrCommunication = errors.New("printer communication error")
	// ErrPartialCommandFailure means a job finished but some commands failed.
	ErrPartialCommandFailure = errors.New("some print commands failed")
	// ErrPrinterBusy means a job is already printing.
	ErrPrinterBusy = errors.New("printer busy")
	// ErrInvalidReceipt means a receipt descriptor failed validation.
	ErrInvalidReceipt = errors.New("invalid receipt")
)

// ChunkError reports a chunk that could not be written in any mode.
type ChunkError struct {
	Index  int // chunk index within the payload
	Offset int // byte offset of the chunk
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrCommunication, e.Err}
}

// CommandError reports one command of a job that failed after all retries.
type CommandError struct {
	Index   int
	Command escpos.Command
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d (%s): %v", e.Index, e.Command.Kind, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// PartialFailureError lists the commands that failed in a job that otherwise ran.
type PartialFailureError struct {
	Failed []*CommandError
	Total  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d of %d print commands failed; first: %v", len(e.Failed), e.Total, e.Failed[0])
}

func (e *PartialFailureError) Unwrap() error {
	return ErrPartialCommandFailure
}
