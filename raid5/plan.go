package raid5

import "helenraid.dev/hr/model"

// Span is one extent's contiguous touched sub-range within a stripe
// plan, in blocks (spec.md §3's Stripe plan entity).
type Span struct {
	StripOff int64 // offset within the strip
	Count    int64
	BufOff   int64 // offset into the caller's I/O buffer
}

// Plan is the per-stripe scratch built for one client I/O (spec.md
// §3, §4.7). Touched holds the contiguous sub-span of each data
// extent this I/O writes or reads; UnionStart/UnionEnd is the
// bounding range of those sub-spans within the strip, the portion of
// the parity strip this plan needs to read or rewrite. A write whose
// touched extents leave a gap in the middle still only recomputes
// that bounding range — the gap is read back unchanged and XORed in
// as a no-op, trading a slightly wider parity read for not having to
// track more than one sub-range per extent.
type Plan struct {
	StripeNo     int64
	ParityExtent int
	Touched      map[int]Span
	UnionStart   int64
	UnionEnd     int64

	stripBlocks int64
}

// BuildPlans splits a client I/O of [ba, ba+cnt) into one Plan per
// stripe it touches (spec.md §4.7).
func BuildPlans(layout model.Layout, n int, stripBlocks, ba, cnt int64) []*Plan {
	byStripe := map[int64]*Plan{}
	var order []int64

	cur, remaining := ba, cnt
	for remaining > 0 {
		c := translate(cur, stripBlocks, n)
		room := stripBlocks - c.StripOff
		take := remaining
		if take > room {
			take = room
		}

		p, ok := byStripe[c.StripeNo]
		if !ok {
			parity := ParityExtent(layout, c.StripeNo, n)
			p = &Plan{
				StripeNo:     c.StripeNo,
				ParityExtent: parity,
				Touched:      map[int]Span{},
				stripBlocks:  stripBlocks,
				UnionStart:   c.StripOff,
				UnionEnd:     c.StripOff + take,
			}
			byStripe[c.StripeNo] = p
			order = append(order, c.StripeNo)
		}

		dataExt := DataExtent(layout, c.StripNo, p.ParityExtent, n)
		p.Touched[dataExt] = Span{StripOff: c.StripOff, Count: take, BufOff: cur - ba}
		if c.StripOff < p.UnionStart {
			p.UnionStart = c.StripOff
		}
		if c.StripOff+take > p.UnionEnd {
			p.UnionEnd = c.StripOff + take
		}

		cur += take
		remaining -= take
	}

	plans := make([]*Plan, len(order))
	for i, sn := range order {
		plans[i] = byStripe[sn]
	}
	return plans
}

// stripsTouched reports how many distinct data extents a plan writes,
// used by the subtract-vs-reconstruct heuristic.
func (p *Plan) stripsTouched() int { return len(p.Touched) }

// gapRanges returns the portion(s) of [start,end) not covered by
// span, in strip-offset coordinates. There are at most two: before
// and after the span (spec.md §3's "at most two discontiguous
// sub-ranges" shape falls directly out of a single contiguous span
// within a wider union).
func gapRanges(start, end int64, span Span, touched bool) [][2]int64 {
	if !touched {
		if start >= end {
			return nil
		}
		return [][2]int64{{start, end}}
	}
	var out [][2]int64
	if span.StripOff > start {
		out = append(out, [2]int64{start, span.StripOff})
	}
	spanEnd := span.StripOff + span.Count
	if spanEnd < end {
		out = append(out, [2]int64{spanEnd, end})
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
