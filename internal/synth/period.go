package synth

import (
	"strconv"
	"time"

	"github.com/Bmar04/ADSBtool/internal/store"
)

// DefaultPeriod is used when the store is too small to estimate cadence.
const DefaultPeriod = time.Minute

// EstimatePeriod picks the animation frame period from the store's observed
// sampling cadence: the median consecutive delta across the whole store,
// bucketed into one of three coarse periods. Boundary medians fall into the
// slower bucket.
func EstimatePeriod(st *store.Store) time.Duration {
	median, ok := st.MedianInterval()
	if !ok {
		return DefaultPeriod
	}
	switch {
	case median < 30*time.Second:
		return 10 * time.Second
	case median < 120*time.Second:
		return 30 * time.Second
	default:
		return time.Minute
	}
}

// PeriodISO8601 renders a frame period as the ISO-8601 duration token the
// rendering layer consumes ("PT10S", "PT30S", "PT1M").
func PeriodISO8601(d time.Duration) string {
	switch d {
	case 10 * time.Second:
		return "PT10S"
	case 30 * time.Second:
		return "PT30S"
	case time.Minute:
		return "PT1M"
	}
	// Non-canonical periods still need a valid token.
	if d%time.Minute == 0 {
		return "PT" + strconv.Itoa(int(d/time.Minute)) + "M"
	}
	return "PT" + strconv.Itoa(int(d/time.Second)) + "S"
}
