package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/metrics"
)

// Options is the reloadable part of the subscriber configuration.
type Options struct {
	Topics        []string // reading topics; head/tail segments drive matching
	RegisterTopic string   // exact-match registration topic, "" disables
	Whitelist     []string
	Blacklist     []string
}

// Counters are the subscriber statistics, logged and reset hourly.
type Counters struct {
	NPublish  int64 // every MQTT message received
	NReadings int64 // classified as readings
	NRegister int64 // classified as registrations
	NFilter   int64 // discarded: retained, whitelist, blacklist
}

// Subscriber turns raw MQTT frames into validated records on the staging
// queues. It is the consumer side of the mqttclient message handler.
type Subscriber struct {
	registerQ *Queue[Registration]
	readingsQ *Queue[Reading]
	log       zerolog.Logger
	now       func() time.Time
	ctx       context.Context

	mu            sync.RWMutex
	heads         map[string]struct{}
	tails         map[string]struct{}
	registerTopic string
	whitelist     map[string]struct{}
	blacklist     map[string]struct{}

	cmu      sync.Mutex
	counters Counters
}

func NewSubscriber(ctx context.Context, registerQ *Queue[Registration], readingsQ *Queue[Reading], opts Options, log zerolog.Logger) *Subscriber {
	s := &Subscriber{
		registerQ: registerQ,
		readingsQ: readingsQ,
		log:       log.With().Str("component", "subscriber").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
	}
	s.Reload(opts)
	return s
}

// Reload swaps the topic classification tables and name filters.
func (s *Subscriber) Reload(opts Options) {
	heads := make(map[string]struct{}, len(opts.Topics))
	tails := make(map[string]struct{}, len(opts.Topics))
	for _, t := range opts.Topics {
		parts := strings.Split(t, "/")
		heads[parts[0]] = struct{}{}
		tails[parts[len(parts)-1]] = struct{}{}
	}
	s.mu.Lock()
	s.heads = heads
	s.tails = tails
	s.registerTopic = opts.RegisterTopic
	s.whitelist = nameSet(opts.Whitelist)
	s.blacklist = nameSet(opts.Blacklist)
	s.mu.Unlock()
}

// HandleMessage is the entry point called by the MQTT client for each frame.
func (s *Subscriber) HandleMessage(topic string, data []byte, retained bool) {
	now := s.now()
	s.count(func(c *Counters) { c.NPublish++ })
	metrics.MQTTMessagesTotal.Inc()

	p, err := decodePayload(data)
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("invalid JSON in payload")
		metrics.MQTTDiscardedTotal.WithLabelValues("invalid_json").Inc()
		return
	}
	name, _ := p.str("name")
	name = lowerName(name)

	// Retained messages replay across reconnects and would duplicate rows.
	if retained {
		s.log.Debug().Str("name", name).Msg("discarded retained payload")
		s.discard("retained")
		return
	}

	s.mu.RLock()
	whitelist, blacklist := s.whitelist, s.blacklist
	registerTopic := s.registerTopic
	heads, tails := s.heads, s.tails
	s.mu.RUnlock()

	if len(whitelist) > 0 {
		if _, ok := whitelist[name]; !ok {
			s.log.Debug().Str("name", name).Msg("discarded payload by whitelist")
			s.discard("whitelist")
			return
		}
	}
	if len(blacklist) > 0 {
		if _, ok := blacklist[name]; ok {
			s.log.Debug().Str("name", name).Msg("discarded payload by blacklist")
			s.discard("blacklist")
			return
		}
	}

	parts := strings.Split(topic, "/")
	switch {
	case registerTopic != "" && topic == registerTopic:
		s.handleRegistration(p, now)
	case inSet(heads, parts[0]) && inSet(tails, parts[len(parts)-1]):
		s.handleReading(p, now)
	default:
		s.log.Warn().Str("topic", topic).Msg("message received on unexpected topic")
		metrics.MQTTDiscardedTotal.WithLabelValues("unknown_topic").Inc()
	}
}

func (s *Subscriber) handleRegistration(p payload, now time.Time) {
	s.count(func(c *Counters) { c.NRegister++ })

	reg, err := parseRegistration(p)
	if err != nil {
		s.log.Error().Err(err).Msg("validation error in registration payload")
		metrics.MQTTDiscardedTotal.WithLabelValues(discardReason(err)).Inc()
		return
	}
	reg.Tstamp, reg.TstampSrc, _, err = resolveTimestamp(p, now)
	if err != nil {
		s.log.Error().Err(err).Str("name", reg.Name).Msg("bad registration timestamp")
		metrics.MQTTDiscardedTotal.WithLabelValues("timestamp").Inc()
		return
	}

	s.log.Info().Str("name", reg.Name).Str("mac", reg.MAC).Msg("registration message enqueued")
	if err := s.registerQ.Put(s.ctx, *reg); err != nil {
		s.log.Warn().Err(err).Str("name", reg.Name).Msg("registration enqueue aborted by shutdown")
	}
}

func (s *Subscriber) handleReading(p payload, now time.Time) {
	s.count(func(c *Counters) { c.NReadings++ })

	r, err := parseReading(p)
	if err != nil {
		s.log.Error().Err(err).Msg("validation error in readings payload")
		metrics.MQTTDiscardedTotal.WithLabelValues(discardReason(err)).Inc()
		return
	}
	var skew time.Duration
	r.Tstamp, r.TstampSrc, skew, err = resolveTimestamp(p, now)
	if err != nil {
		s.log.Error().Err(err).Str("name", r.Name).Msg("source timestamp in unknown format")
		metrics.MQTTDiscardedTotal.WithLabelValues("timestamp").Inc()
		return
	}
	if r.TstampSrc == SourcePublisher && skew > MaxTstampSkew {
		s.log.Warn().
			Str("name", r.Name).
			Dur("skew", skew).
			Msg("publisher timestamp out of sync with subscriber")
	}

	s.log.Debug().Str("name", r.Name).Int64("seq", r.Seq).Msg("reading enqueued")
	if err := s.readingsQ.Put(s.ctx, *r); err != nil {
		s.log.Warn().Err(err).Str("name", r.Name).Msg("reading enqueue aborted by shutdown")
	}
}

func (s *Subscriber) discard(reason string) {
	s.count(func(c *Counters) { c.NFilter++ })
	metrics.MQTTDiscardedTotal.WithLabelValues(reason).Inc()
}

func (s *Subscriber) count(f func(*Counters)) {
	s.cmu.Lock()
	f(&s.counters)
	s.cmu.Unlock()
}

// TakeCounters returns the current counters and resets them.
func (s *Subscriber) TakeCounters() Counters {
	s.cmu.Lock()
	c := s.counters
	s.counters = Counters{}
	s.cmu.Unlock()
	return c
}

func discardReason(err error) string {
	switch err.(type) {
	case *KeyError:
		return "missing_key"
	case *TypeError:
		return "wrong_type"
	case *MACError:
		return "bad_mac"
	case *TimestampError:
		return "timestamp"
	default:
		return "other"
	}
}

func nameSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = lowerName(n); n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

func inSet(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
