// Package raid5 implements the RAID-4/5 stripe planner (spec.md
// §4.7): address math and per-layout parity/data tables, the stripe
// plan, and the read/write/rebuild execution paths that drive it
// through the fibril group executor.
package raid5

import "helenraid.dev/hr/model"

// Coords is one client block address translated into stripe
// coordinates (spec.md §4.7): strip_blocks = strip_size / block_size;
// strip_no = ba / strip_blocks; stripe_no = strip_no / (N-1);
// strip_off = ba mod strip_blocks.
type Coords struct {
	StripNo   int64
	StripeNo  int64
	StripOff  int64
}

func translate(ba, stripBlocks int64, n int) Coords {
	stripNo := ba / stripBlocks
	return Coords{
		StripNo:  stripNo,
		StripeNo: stripNo / int64(n-1),
		StripOff: ba % stripBlocks,
	}
}

// ParityExtent returns which extent holds parity for stripeNo under
// layout, for an N-extent volume (spec.md §4.7's fixed per-layout
// table).
func ParityExtent(layout model.Layout, stripeNo int64, n int) int {
	switch layout {
	case model.LayoutRAID4_0:
		return 0
	case model.LayoutRAID4_N:
		return n - 1
	case model.LayoutRAID5_0R:
		return int(stripeNo % int64(n))
	case model.LayoutRAID5_NR, model.LayoutRAID5_NC:
		return (n - 1) - int(stripeNo%int64(n))
	default:
		return n - 1
	}
}

// DataExtent returns which extent holds the strip at stripNo within
// its stripe, given that stripe's parity extent (spec.md §4.7).
func DataExtent(layout model.Layout, stripNo int64, parity, n int) int {
	switch layout {
	case model.LayoutRAID4_0:
		return int(stripNo%int64(n-1)) + 1
	case model.LayoutRAID4_N:
		return int(stripNo % int64(n-1))
	case model.LayoutRAID5_0R, model.LayoutRAID5_NR:
		d := int(stripNo % int64(n-1))
		if d >= parity {
			d++
		}
		return d
	case model.LayoutRAID5_NC:
		return (int(stripNo%int64(n-1)) + parity + 1) % n
	default:
		d := int(stripNo % int64(n-1))
		if d >= parity {
			d++
		}
		return d
	}
}
