package pricing

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Region labels. Named regions are a display convenience; fee resolution
// for orders is driven by postal code only.
const (
	RegionJeju    = "제주"
	RegionUlleung = "울릉도·독도"
	RegionIsland  = "도서산간"
	RegionNormal  = "normal"
)

var (
	jejuSurcharge    = decimal.NewFromInt(3000)
	ulleungSurcharge = decimal.NewFromInt(5000)
	islandSurcharge  = decimal.NewFromInt(5000)
)

type postalRange struct {
	from, to int
}

func (r postalRange) contains(code int) bool {
	return code >= r.from && code <= r.to
}

var (
	jejuRanges    = []postalRange{{63000, 63644}}
	ulleungRanges = []postalRange{{40200, 40240}}
	islandRanges  = []postalRange{
		{22386, 22388}, {23004, 23010}, {23100, 23116}, {23124, 23136},
		{32133, 32133}, {33411, 33411}, {46768, 46771}, {52570, 52571},
		{53031, 53033}, {53089, 53104}, {54000, 54000}, {56347, 56349},
		{57068, 57069}, {58760, 58762}, {58800, 58810}, {58816, 58818},
		{58826, 58826}, {58828, 58866}, {58953, 58958}, {59102, 59103},
		{59106, 59106}, {59127, 59127}, {59129, 59129}, {59137, 59166},
		{59650, 59650}, {59766, 59766}, {59781, 59790},
	}
)

// ShippingFee is the resolved fee for one shipment.
type ShippingFee struct {
	BaseFee     decimal.Decimal `json:"base_fee"`
	Surcharge   decimal.Decimal `json:"surcharge"`
	TotalFee    decimal.Decimal `json:"total_fee"`
	IsRemote    bool            `json:"is_remote"`
	RegionLabel string          `json:"region_label"`
}

// ResolveShippingFee adds the remote-area surcharge for postalCode to
// baseFee. A zero base fee means free shipping and suppresses the surcharge.
// Malformed postal codes resolve to the normal region.
func ResolveShippingFee(baseFee decimal.Decimal, postalCode string) ShippingFee {
	return resolve(baseFee, RegionForPostalCode(postalCode))
}

// ResolveRegionFee is ResolveShippingFee keyed by a named region instead of a
// postal code. Unknown names resolve to the normal region.
func ResolveRegionFee(baseFee decimal.Decimal, region string) ShippingFee {
	switch region {
	case RegionJeju, RegionUlleung, RegionIsland:
		return resolve(baseFee, region)
	default:
		return resolve(baseFee, RegionNormal)
	}
}

// RegionForPostalCode classifies a 5-digit Korean postal code.
func RegionForPostalCode(postalCode string) string {
	code, ok := parsePostalCode(postalCode)
	if !ok {
		return RegionNormal
	}

	switch {
	case inRanges(jejuRanges, code):
		return RegionJeju
	case inRanges(ulleungRanges, code):
		return RegionUlleung
	case inRanges(islandRanges, code):
		return RegionIsland
	default:
		return RegionNormal
	}
}

func resolve(baseFee decimal.Decimal, region string) ShippingFee {
	if baseFee.IsNegative() {
		baseFee = decimal.Zero
	}

	fee := ShippingFee{
		BaseFee:     baseFee,
		Surcharge:   decimal.Zero,
		RegionLabel: region,
		IsRemote:    region != RegionNormal,
	}

	if !baseFee.IsZero() {
		fee.Surcharge = surchargeFor(region)
	}
	fee.TotalFee = fee.BaseFee.Add(fee.Surcharge)

	return fee
}

func surchargeFor(region string) decimal.Decimal {
	switch region {
	case RegionJeju:
		return jejuSurcharge
	case RegionUlleung:
		return ulleungSurcharge
	case RegionIsland:
		return islandSurcharge
	default:
		return decimal.Zero
	}
}

func parsePostalCode(postalCode string) (int, bool) {
	trimmed := strings.TrimSpace(postalCode)
	if len(trimmed) != 5 {
		return 0, false
	}
	code, err := strconv.Atoi(trimmed)
	if err != nil || code < 0 {
		return 0, false
	}
	return code, true
}

func inRanges(ranges []postalRange, code int) bool {
	for _, r := range ranges {
		if r.contains(code) {
			return true
		}
	}
	return false
}
