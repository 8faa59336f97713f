package printer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/ble"
)

// DefaultScanWindow is how long Scan listens for advertisements.
const DefaultScanWindow = 5 * time.Second

// Chooser picks a device from the scan results, returning false to cancel.
type Chooser func(devices []PrinterDevice) (PrinterDevice, bool)

// ChooseFirst picks the strongest signal.
func ChooseFirst(devices []PrinterDevice) (PrinterDevice, bool) {
	if len(devices) == 0 {
		return PrinterDevice{}, false
	}
	return devices[0], true
}

// ChooseByName picks the first device whose name contains name, ignoring case.
func ChooseByName(name string) Chooser {
	want := strings.ToLower(name)
	return func(devices []PrinterDevice) (PrinterDevice, bool) {
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), want) {
				return d, true
			}
		}
		return PrinterDevice{}, false
	}
}

// Discovery scans for advertising printers.
type Discovery struct {
	adapter ble.Adapter
	filter  ble.ScanFilter
	window  time.Duration
	log     *zap.Logger

	enableOnce sync.Once
	enableErr  error
}

// NewDiscovery filters on the services of chain and, if given, advertised names.
func NewDiscovery(adapter ble.Adapter, chain []Candidate, names []string, window time.Duration, log *zap.Logger) *Discovery {
	if len(chain) == 0 {
		chain = Chain(DefaultProfiles)
	}
	if window <= 0 {
		window = DefaultScanWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discovery{
		adapter: adapter,
		filter:  ble.ScanFilter{Services: ServiceUUIDs(chain), Names: names},
		window:  window,
		log:     log.Named("discovery"),
	}
}

// Enable powers on the adapter once.
func (d *Discovery) Enable() error {
	d.enableOnce.Do(func() {
		if err := d.adapter.Enable(); err != nil {
			d.enableErr = fmt.Errorf("%w: %w", ErrBluetoothUnavailable, err)
		}
	})
	return d.enableErr
}

// List scans for the configured window and returns the devices seen,
// strongest signal first.
func (d *Discovery) List(ctx context.Context) ([]PrinterDevice, error) {
	if err := d.Enable(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, d.window)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var devices []PrinterDevice

	err := d.adapter.Scan(scanCtx, d.filter, func(ad ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()

		key := strings.ToUpper(ad.Address)
		if i, ok := seen[key]; ok {
			if ad.Name != "" {
				devices[i].Name = ad.Name
			}
			devices[i].RSSI = ad.RSSI
			return
		}
		seen[key] = len(devices)
		devices = append(devices, PrinterDevice{Address: ad.Address, Name: ad.Name, RSSI: ad.RSSI})
		d.log.Debug("found printer", zap.String("address", ad.Address), zap.String("name", ad.Name), zap.Int16("rssi", ad.RSSI))
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ErrUserCancelled
	}

	mu.Lock()
	defer mu.Unlock()
	out := append([]PrinterDevice(nil), devices...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	return out, nil
}

// Scan lists nearby printers and lets choose pick one.
func (d *Discovery) Scan(ctx context.Context, choose Chooser) (PrinterDevice, error) {
	devices, err := d.List(ctx)
	if err != nil {
		return PrinterDevice{}, err
	}
	if len(devices) == 0 {
		return PrinterDevice{}, ErrNoDeviceFound
	}
	if choose == nil {
		choose = ChooseFirst
	}
	dev, ok := choose(devices)
	if !ok {
		return PrinterDevice{}, ErrUserCancelled
	}
	return dev, nil
}

// IsSelectionError reports errors that end a scan without a device.
func IsSelectionError(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrNoDeviceFound)
}
