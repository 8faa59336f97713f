// Package registry manages persistent printer IDs, custom names and the
// GATT pair each printer last negotiated.
package registry

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownPrinter is returned for an ID the registry has never seen.
var ErrUnknownPrinter = errors.New("registry: unknown printer")

// Registry manages printer identities and custom names
type Registry struct {
	filePath string
	data     map[string]*PrinterEntry
	mu       sync.RWMutex
}

// PrinterEntry stores persistent information about a printer
type PrinterEntry struct {
	ID             string    `json:"id"`
	IdentityKey    string    `json:"identity_key"`
	Address        string    `json:"address"`
	AdvertisedName string    `json:"advertised_name,omitempty"`
	Profile        string    `json:"profile,omitempty"`
	Service        string    `json:"service,omitempty"`
	Characteristic string    `json:"characteristic,omitempty"`
	Name           string    `json:"name,omitempty"` // Custom user-set name
	LastConnected  time.Time `json:"last_connected,omitempty"`
}

// DisplayName is the custom name, falling back to the advertised name and
// then the address.
func (e *PrinterEntry) DisplayName() string {
	switch {
	case e.Name != "":
		return e.Name
	case e.AdvertisedName != "":
		return e.AdvertisedName
	default:
		return e.Address
	}
}

// PrinterInfo is what a successful connection learns about a printer.
type PrinterInfo struct {
	Address        string
	AdvertisedName string
	Profile        string
	Service        string
	Characteristic string
}

// New creates a Registry backed by filePath. An empty path keeps the
// registry in memory only.
func New(filePath string) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*PrinterEntry),
	}

	if filePath == "" {
		return r, nil
	}
	if err := r.load(); err != nil {
		// A missing file is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// GetPrinterID gets or creates a persistent ID for a printer
func (r *Registry) GetPrinterID(info PrinterInfo) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, created := r.entryFor(info)
	if !created {
		return entry.ID, nil
	}
	return entry.ID, r.save()
}

// Remember records a successful connection: it creates the entry if needed
// and stores the negotiated service/characteristic pair and time.
func (r *Registry) Remember(info PrinterInfo, at time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, _ := r.entryFor(info)
	if info.AdvertisedName != "" {
		entry.AdvertisedName = info.AdvertisedName
	}
	entry.Address = info.Address
	entry.Profile = info.Profile
	entry.Service = info.Service
	entry.Characteristic = info.Characteristic
	entry.LastConnected = at.UTC()

	return entry.ID, r.save()
}

// entryFor must be called with mu held.
func (r *Registry) entryFor(info PrinterInfo) (*PrinterEntry, bool) {
	identityKey := generateIdentityKey(info)
	if entry, exists := r.data[identityKey]; exists {
		return entry, false
	}

	entry := &PrinterEntry{
		ID:             uuid.New().String(),
		IdentityKey:    identityKey,
		Address:        info.Address,
		AdvertisedName: info.AdvertisedName,
	}
	r.data[identityKey] = entry
	return entry, true
}

// GetPrinterName gets the custom name for a printer, or empty string if not set
func (r *Registry) GetPrinterName(printerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.byID(printerID); entry != nil {
		return entry.Name
	}
	return ""
}

// SetPrinterName sets a custom name for a printer
func (r *Registry) SetPrinterName(printerID string, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.byID(printerID)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPrinter, printerID)
	}
	entry.Name = strings.TrimSpace(name)
	return r.save()
}

// GetPrinterInfo gets all stored information for a printer
func (r *Registry) GetPrinterInfo(printerID string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.byID(printerID); entry != nil {
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// FindByAddress returns the entry for a BLE address, or nil.
func (r *Registry) FindByAddress(address string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.data[addressKey(address)]; ok {
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// RemovePrinter removes a printer from the registry
func (r *Registry) RemovePrinter(printerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.data {
		if entry.ID == printerID {
			delete(r.data, key)
			return r.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownPrinter, printerID)
}

// GetAll returns copies of all registered printers, most recently
// connected first.
func (r *Registry) GetAll() []*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*PrinterEntry, 0, len(r.data))
	for _, v := range r.data {
		entryCopy := *v
		result = append(result, &entryCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastConnected.Equal(result[j].LastConnected) {
			return result[i].LastConnected.After(result[j].LastConnected)
		}
		return result[i].IdentityKey < result[j].IdentityKey
	})
	return result
}

// Last returns the most recently connected printer, or nil.
func (r *Registry) Last() *PrinterEntry {
	all := r.GetAll()
	if len(all) == 0 || all[0].LastConnected.IsZero() {
		return nil
	}
	return all[0]
}

func (r *Registry) byID(printerID string) *PrinterEntry {
	for _, entry := range r.data {
		if entry.ID == printerID {
			return entry
		}
	}
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

// save writes through a temp file so a crash never leaves a torn registry.
func (r *Registry) save() error {
	if r.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(r.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create registry dir: %w", err)
		}
	}
	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return os.Rename(tmp, r.filePath)
}

func addressKey(address string) string {
	return "ble:" + strings.ToUpper(strings.TrimSpace(address))
}

// generateIdentityKey creates a unique key for a printer. The BLE address
// is stable per adapter; the name hash only covers malformed input.
func generateIdentityKey(info PrinterInfo) string {
	if strings.TrimSpace(info.Address) != "" {
		return addressKey(info.Address)
	}

	hash := md5.Sum([]byte(info.AdvertisedName))
	return fmt.Sprintf("hash:%x", hash)
}
