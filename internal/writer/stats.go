package writer

import (
	"time"

	"github.com/stars4all/tessd/internal/ingest"
	"github.com/stars4all/tessd/internal/registry"
)

// logStats emits the hourly counter records and resets every counter it
// reads. The efficiency figure is the fraction of the stats period the
// writer actually spent inside ticks, in percent.
func (w *Writer) logStats() {
	counters := w.counters
	w.counters = Counters{}
	regCounters := w.identity.TakeCounters()
	var subCounters ingest.Counters
	if w.subscriber != nil {
		subCounters = w.subscriber.TakeCounters()
	}
	ioTimes := w.ioTimes
	pending := w.pending
	w.ioTimes = nil
	w.pending = nil

	w.mu.Lock()
	opts := w.opts
	w.accumulate(counters, regCounters, subCounters)
	w.mu.Unlock()

	if opts.StatsMode == "off" {
		return
	}

	ioMin, ioMean, ioMax := durStats(ioTimes)
	pMin, pMean, pMax := intStats(pending)
	efficiency := 100 * float64(len(ioTimes)) * tickPeriod.Seconds() / statPeriod.Seconds()

	if opts.StatsMode == "detailed" {
		w.log.Info().
			Int64("publish", subCounters.NPublish).
			Int64("readings", subCounters.NReadings).
			Int64("register", subCounters.NRegister).
			Int64("filtered", subCounters.NFilter).
			Msg("hourly mqtt stats")
		w.log.Info().
			Int64("register", regCounters.NRegister).
			Int64("creation", regCounters.NCreation).
			Int64("reboot", regCounters.NReboot).
			Int64("rename", regCounters.NRename).
			Int64("zp_change", regCounters.NZPChange).
			Int64("replace", regCounters.NReplace).
			Int64("overriden", regCounters.NOverriden).
			Msg("hourly registry stats")
		w.log.Info().
			Dur("io_min", ioMin).
			Dur("io_mean", ioMean).
			Dur("io_max", ioMax).
			Int("pending_min", pMin).
			Int("pending_mean", pMean).
			Int("pending_max", pMax).
			Float64("efficiency_pct", efficiency).
			Msg("hourly tick stats")
	}

	w.logReadings(counters, efficiency)
}

func (w *Writer) logReadings(c Counters, efficiency float64) {
	w.log.Info().
		Int64("readings", c.NReadings).
		Int64("accepted", c.NAccepted).
		Int64("not_registered", c.NotRegistered).
		Int64("not_authorised", c.NotAuthorised).
		Int64("lack_sunrise", c.LackSunrise).
		Int64("sunrise", c.Sunrise).
		Int64("duplicate", c.Duplicate).
		Int64("other", c.Other).
		Float64("efficiency_pct", efficiency).
		Msg("hourly writer stats")
}

// accumulate folds the hourly counters into the boot-to-now totals the
// stats endpoint serves. Callers hold w.mu.
func (w *Writer) accumulate(c Counters, r registry.Counters, s ingest.Counters) {
	w.totals.NReadings += c.NReadings
	w.totals.NAccepted += c.NAccepted
	w.totals.NotRegistered += c.NotRegistered
	w.totals.NotAuthorised += c.NotAuthorised
	w.totals.LackSunrise += c.LackSunrise
	w.totals.Sunrise += c.Sunrise
	w.totals.Duplicate += c.Duplicate
	w.totals.Other += c.Other

	w.regTotal.NRegister += r.NRegister
	w.regTotal.NCreation += r.NCreation
	w.regTotal.NReboot += r.NReboot
	w.regTotal.NRename += r.NRename
	w.regTotal.NZPChange += r.NZPChange
	w.regTotal.NReplace += r.NReplace
	w.regTotal.NOverriden += r.NOverriden

	w.subTotal.NPublish += s.NPublish
	w.subTotal.NReadings += s.NReadings
	w.subTotal.NRegister += s.NRegister
	w.subTotal.NFilter += s.NFilter
}

func durStats(xs []time.Duration) (min, mean, max time.Duration) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	min, max = xs[0], xs[0]
	var sum time.Duration
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
		sum += x
	}
	return min, sum / time.Duration(len(xs)), max
}

func intStats(xs []int) (min, mean, max int) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	min, max = xs[0], xs[0]
	sum := 0
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
		sum += x
	}
	return min, sum / len(xs), max
}
