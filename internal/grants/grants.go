// Package grants tracks USB devices the operator has authorized for printing
package grants

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Grant records one authorized device. A device stays granted across
// restarts until it is explicitly revoked.
type Grant struct {
	ID            string    `json:"id"`
	VendorID      uint16    `json:"vendor_id"`
	ProductID     uint16    `json:"product_id"`
	Manufacturer  string    `json:"manufacturer,omitempty"`
	Product       string    `json:"product,omitempty"`
	SerialNumber  string    `json:"serial_number,omitempty"`
	DeviceAddress string    `json:"device_address"`
	GrantedAt     time.Time `json:"granted_at"`
}

// Registry is a JSON-file-backed set of grants
type Registry struct {
	filePath string
	data     map[string]*Grant
	mu       sync.RWMutex
}

// New creates a registry backed by the given file. A missing file is not
// an error; it is created on first save.
func New(filePath string) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*Grant),
	}

	if err := r.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load grant registry: %w", err)
		}
	}

	return r, nil
}

// Add records a grant for the device, or returns the existing one if the
// same physical device was already authorized.
func (r *Registry) Add(g Grant) Grant {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(g)
	if existing, ok := r.data[key]; ok {
		return *existing
	}

	g.ID = uuid.New().String()
	g.GrantedAt = time.Now().UTC()
	r.data[key] = &g

	// Best effort: the grant survives in memory and is re-saved on the
	// next mutation.
	_ = r.save()

	return g
}

// ByVendor returns all grants matching a vendor ID
func (r *Registry) ByVendor(vid uint16) []Grant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Grant
	for _, g := range r.data {
		if g.VendorID == vid {
			out = append(out, *g)
		}
	}
	return out
}

// List returns all grants
func (r *Registry) List() []Grant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Grant, 0, len(r.data))
	for _, g := range r.data {
		out = append(out, *g)
	}
	return out
}

// Revoke removes a grant by ID
func (r *Registry) Revoke(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, g := range r.data {
		if g.ID == id {
			delete(r.data, key)
			_ = r.save()
			return true
		}
	}
	return false
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &r.data)
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.filePath, data, 0644)
}

func identityKey(g Grant) string {
	if g.SerialNumber != "" {
		return fmt.Sprintf("usb:%04X:%04X:%s", g.VendorID, g.ProductID, g.SerialNumber)
	}
	return fmt.Sprintf("usb:%04X:%04X", g.VendorID, g.ProductID)
}
