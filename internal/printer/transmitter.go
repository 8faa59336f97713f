package printer

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/ble"
)

// DefaultChunkSize fits the 20-byte ATT payload of the smallest MTU with room
// to spare on printers that misreport it.
const DefaultChunkSize = 15

// TransmitterConfig tunes chunked writes.
type TransmitterConfig struct {
	ChunkSize   int
	PacingDelay time.Duration // after every chunk
	RetryDelay  time.Duration // before the second round of write attempts
}

// Transmitter splits payloads into chunks and writes each one, first without
// response and then with response, retrying the pair once.
type Transmitter struct {
	cfg   TransmitterConfig
	log   *zap.Logger
	sleep func(time.Duration)

	// set once the platform reports it has no acknowledged write
	noAck atomic.Bool
}

// NewTransmitter returns a transmitter. A non-positive chunk size selects
// DefaultChunkSize.
func NewTransmitter(cfg TransmitterConfig, log *zap.Logger) *Transmitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transmitter{cfg: cfg, log: log.Named("transmitter"), sleep: time.Sleep}
}

// Config returns the active configuration.
func (t *Transmitter) Config() TransmitterConfig {
	return t.cfg
}

// Send writes data to char in order and returns how many chunks were
// written. It stops at the first chunk that fails every attempt, returning a
// *ChunkError, or ErrConnectionLost once the peripheral reports the link down.
func (t *Transmitter) Send(p ble.Peripheral, char ble.Characteristic, data []byte) (int, error) {
	size := t.cfg.ChunkSize
	written := 0
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		if !p.Connected() {
			return written, ErrConnectionLost
		}
		if err := t.writeChunk(p, char, data[off:end]); err != nil {
			if errors.Is(err, ErrConnectionLost) {
				return written, err
			}
			return written, &ChunkError{Index: off / size, Offset: off, Err: err}
		}
		written++
		if t.cfg.PacingDelay > 0 {
			t.sleep(t.cfg.PacingDelay)
		}
	}
	return written, nil
}

func (t *Transmitter) writeChunk(p ble.Peripheral, char ble.Characteristic, chunk []byte) error {
	var errs []error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			t.sleep(t.cfg.RetryDelay)
			if !p.Connected() {
				return ErrConnectionLost
			}
		}

		_, err := char.WriteWithoutResponse(chunk)
		if err == nil {
			return nil
		}
		errs = append(errs, err)

		if !t.noAck.Load() {
			_, err = char.Write(chunk)
			if err == nil {
				return nil
			}
			errs = append(errs, err)
			if errors.Is(err, ble.ErrWriteModeUnsupported) && !t.noAck.Swap(true) {
				t.log.Warn("acknowledged write unavailable, retrying without response only", zap.Error(err))
			}
		}

		t.log.Debug("chunk write failed", zap.Int("attempt", attempt+1), zap.Int("len", len(chunk)), zap.Errors("errors", errs))
	}
	if !p.Connected() {
		return ErrConnectionLost
	}
	return errors.Join(errs...)
}
