package domain

import "time"

// ListingStatus tracks the listing lifecycle.
type ListingStatus string

const (
	ListingStatusActive  ListingStatus = "active"
	ListingStatusRented  ListingStatus = "rented"
	ListingStatusPaused  ListingStatus = "paused"
	ListingStatusRemoved ListingStatus = "removed"
)

// Algorithms supported by the marketplace. Orders snapshot the listing's
// algorithm, so extending this set never rewrites history.
var Algorithms = []string{
	"sha256", "scrypt", "ethash", "etchash", "kawpow", "randomx", "kheavyhash",
}

// ValidAlgorithm reports whether algo is in the supported set.
func ValidAlgorithm(algo string) bool {
	for _, a := range Algorithms {
		if a == algo {
			return true
		}
	}
	return false
}

// HashrateUnits is the accepted unit enumeration, smallest to largest.
var HashrateUnits = []string{"H/s", "KH/s", "MH/s", "GH/s", "TH/s", "PH/s"}

// ValidHashrateUnit reports whether unit is in the accepted enumeration.
func ValidHashrateUnit(unit string) bool {
	for _, u := range HashrateUnits {
		if u == unit {
			return true
		}
	}
	return false
}

// Listing is a seller's rentable hashrate offer. Owned exclusively by its
// seller; flipped active→rented by order creation and back by settlement.
type Listing struct {
	ID                int64
	SellerID          int64
	SellerWallet      string
	Title             string
	Description       string
	Algorithm         string
	Hashrate          float64
	HashrateUnit      string
	PricePerHourTicks int64 // fixed-point: USDT/hour * 1e6
	MinHours          int
	MaxHours          int
	HardwareInfo      string
	Region            string
	Status            ListingStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PricePerHour returns the display price from fixed-point ticks.
func (l Listing) PricePerHour() float64 {
	return USDT(l.PricePerHourTicks)
}
