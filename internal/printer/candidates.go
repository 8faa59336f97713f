package printer

import "github.com/thereceipt/bleprint/internal/ble"

// Profile is a vendor GATT layout: one service and its writable
// characteristics in preference order.
type Profile struct {
	Name            string
	Service         string
	Characteristics []string
}

// Candidate is one (service, characteristic) pair to try.
type Candidate struct {
	Profile        string `json:"profile"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
}

// DefaultProfiles are the printer layouts seen in the field, most common first.
var DefaultProfiles = []Profile{
	{Name: "generic-18f0", Service: "18f0", Characteristics: []string{"2af1"}},
	{Name: "gprinter", Service: "e7810a71-73ae-499d-8c15-faa9aef0c3f2", Characteristics: []string{"bef8d6c9-9c21-4c9e-b632-bd58c1009f9f"}},
	{Name: "isc-transparent-uart", Service: "49535343-fe7d-4ae5-8fa9-9fafd205e455", Characteristics: []string{"49535343-8841-43f4-a8d4-ecbe34729bb3", "49535343-1e4d-4bd9-ba61-23c647249616"}},
	{Name: "ff00", Service: "ff00", Characteristics: []string{"ff02", "ff01"}},
	{Name: "ae30", Service: "ae30", Characteristics: []string{"ae01", "ae03"}},
	{Name: "fee7", Service: "fee7", Characteristics: []string{"fec7", "fec8"}},
}

// Chain flattens profiles into the ordered fallback chain: every
// characteristic of the first service, then of the second, and so on.
func Chain(profiles []Profile) []Candidate {
	var chain []Candidate
	for _, p := range profiles {
		for _, c := range p.Characteristics {
			chain = append(chain, Candidate{
				Profile:        p.Name,
				Service:        ble.NormalizeUUID(p.Service),
				Characteristic: ble.NormalizeUUID(c),
			})
		}
	}
	return chain
}

// ServiceUUIDs returns the distinct services of a chain in order, used as
// the scan filter.
func ServiceUUIDs(chain []Candidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chain {
		if !seen[c.Service] {
			seen[c.Service] = true
			out = append(out, c.Service)
		}
	}
	return out
}
