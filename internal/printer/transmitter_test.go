package printer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/bleprint/internal/ble"
	"github.com/thereceipt/bleprint/internal/ble/bletest"
)

type sleepLog []time.Duration

func (s *sleepLog) sleep(d time.Duration) { *s = append(*s, d) }

func newTestTransmitter(cfg TransmitterConfig) (*Transmitter, *sleepLog) {
	tx := NewTransmitter(cfg, nil)
	sl := &sleepLog{}
	tx.sleep = sl.sleep
	return tx, sl
}

func connectedCharacteristic(t *testing.T) (*bletest.Adapter, *bletest.Peripheral, ble.Characteristic) {
	t.Helper()
	p := bletest.NewPeripheral(testAddr, standardGATT())
	a := bletest.NewAdapter(p)
	_, err := a.Connect(context.Background(), testAddr)
	require.NoError(t, err)

	svc, err := p.Service("18f0")
	require.NoError(t, err)
	char, err := svc.Characteristic("2af1")
	require.NoError(t, err)
	return a, p, char
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSend_ChunksInOrder(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	tx, sleeps := newTestTransmitter(TransmitterConfig{PacingDelay: 20 * time.Millisecond})

	data := payload(100)
	n, err := tx.Send(p, char, data)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	writes := p.Writes()
	require.Len(t, writes, 7)
	for i, w := range writes {
		assert.Equal(t, bletest.ModeNoResponse, w.Mode)
		want := 15
		if i == 6 {
			want = 10
		}
		assert.Len(t, w.Data, want, "chunk %d", i)
	}
	assert.Equal(t, data, p.Bytes())
	assert.Len(t, *sleeps, 7)
	assert.Equal(t, 20*time.Millisecond, (*sleeps)[0])
}

func TestSend_Empty(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	tx, _ := newTestTransmitter(TransmitterConfig{})

	n, err := tx.Send(p, char, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, p.Attempts())
}

func TestSend_FallsBackToAcknowledgedWrite(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	p.FailWrites(func(mode string, _ int, _ []byte) error {
		if mode == bletest.ModeNoResponse {
			return errors.New("not permitted")
		}
		return nil
	})
	tx, _ := newTestTransmitter(TransmitterConfig{})

	data := payload(30)
	n, err := tx.Send(p, char, data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, p.Attempts())
	for _, w := range p.Writes() {
		assert.Equal(t, bletest.ModeResponse, w.Mode)
	}
	assert.Equal(t, data, p.Bytes())
}

func TestSend_AcknowledgedWriteUnsupported(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	p.FailWrites(func(mode string, n int, _ []byte) error {
		if mode == bletest.ModeResponse {
			return ble.ErrWriteModeUnsupported
		}
		if n == 0 {
			return errors.New("busy")
		}
		return nil
	})
	tx, _ := newTestTransmitter(TransmitterConfig{})

	n, err := tx.Send(p, char, payload(30))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	// first chunk: no-ack fails, ack unsupported, no-ack retry succeeds.
	// second chunk never tries the acknowledged mode again.
	assert.Equal(t, 4, p.Attempts())
	for _, w := range p.Writes() {
		assert.Equal(t, bletest.ModeNoResponse, w.Mode)
	}
}

func TestSend_AcknowledgedWriteUnsupportedReported(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	p.FailWrites(func(mode string, _ int, _ []byte) error {
		if mode == bletest.ModeResponse {
			return ble.ErrWriteModeUnsupported
		}
		return errors.New("not permitted")
	})
	tx, _ := newTestTransmitter(TransmitterConfig{})

	_, err := tx.Send(p, char, payload(5))
	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ble.ErrWriteModeUnsupported)
	assert.Equal(t, 3, p.Attempts())
	assert.Empty(t, p.Writes())
}

func TestSend_RetriesAfterDelay(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	p.FailWrites(func(_ string, n int, _ []byte) error {
		if n < 2 {
			return errors.New("busy")
		}
		return nil
	})
	tx, sleeps := newTestTransmitter(TransmitterConfig{RetryDelay: 100 * time.Millisecond})

	n, err := tx.Send(p, char, payload(5))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, p.Attempts())
	assert.Equal(t, bletest.ModeNoResponse, p.Writes()[0].Mode)
	assert.Contains(t, *sleeps, 100*time.Millisecond)
}

func TestSend_CommunicationError(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	p.FailWrites(func(_ string, n int, _ []byte) error {
		if n >= 1 {
			return errors.New("gatt error")
		}
		return nil
	})
	tx, _ := newTestTransmitter(TransmitterConfig{})

	n, err := tx.Send(p, char, payload(30))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommunication)
	assert.Equal(t, 1, n)

	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, 15, ce.Offset)
	// One success, then two rounds of both modes.
	assert.Equal(t, 5, p.Attempts())
}

func TestSend_ConnectionLostMidPayload(t *testing.T) {
	a, p, char := connectedCharacteristic(t)
	p.OnWrite = func(n int) {
		if n == 0 {
			a.DropLink(testAddr)
		}
	}
	tx, _ := newTestTransmitter(TransmitterConfig{})

	n, err := tx.Send(p, char, payload(45))
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, p.Attempts(), "no write is attempted once the link is down")
}

func TestSend_CustomChunkSize(t *testing.T) {
	_, p, char := connectedCharacteristic(t)
	tx, _ := newTestTransmitter(TransmitterConfig{ChunkSize: 20})

	n, err := tx.Send(p, char, bytes.Repeat([]byte{'x'}, 41))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, DefaultChunkSize, NewTransmitter(TransmitterConfig{}, nil).Config().ChunkSize)
}
