package trips

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minex/haulsync/internal/domain"
)

// ScanPayload is the decoded content of a scanned QR code. Vehicle QRs at
// the mine carry the full start payload; trip QRs at the plant carry just
// the token.
type ScanPayload struct {
	TripToken   string `json:"tripToken"`
	VehicleID   int    `json:"vehicleId"`
	Destination string `json:"destination"`
	Material    string `json:"material"`
}

// ParseScan decodes raw QR data. JSON payloads are decoded as-is; anything
// else is treated as a bare trip token. Empty data is rejected.
func ParseScan(data string) (ScanPayload, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return ScanPayload{}, fmt.Errorf("trips.ParseScan: empty QR data: %w", domain.ErrValidation)
	}

	if strings.HasPrefix(data, "{") {
		var p ScanPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ScanPayload{}, fmt.Errorf("trips.ParseScan: unreadable QR data: %w", domain.ErrValidation)
		}
		return p, nil
	}
	return ScanPayload{TripToken: data}, nil
}

// validateForStart rejects a scan that cannot open a trip, before any
// network or queue interaction.
func (p ScanPayload) validateForStart() error {
	if p.VehicleID <= 0 {
		return fmt.Errorf("QR code missing vehicle information: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(p.Destination) == "" {
		return fmt.Errorf("destination is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(p.Material) == "" {
		return fmt.Errorf("material is required: %w", domain.ErrValidation)
	}
	return nil
}
