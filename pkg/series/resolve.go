package series

import "context"

// Alternate lazily fetches a gap-filling series.
type Alternate func(ctx context.Context) TimeSeries

// Resolve returns primary when it has data. Only an empty primary invokes
// alternate, whose result is returned as is (possibly empty). Primary sources
// are preferred; alternates exist only to fill gaps.
func Resolve(ctx context.Context, primary TimeSeries, alternate Alternate) TimeSeries {
	if len(primary) > 0 {
		return primary
	}
	if alternate == nil {
		return OrEmpty(primary)
	}
	return OrEmpty(alternate(ctx))
}
