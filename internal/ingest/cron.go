package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/r3e-network/faas-core/internal/faas"
)

// cronField is one of a standard 5-field cron expression's fields, holding
// the set of accepted values (empty set means "every value", i.e. "*").
type cronField map[int]struct{}

func (f cronField) matches(v int) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[v]
	return ok
}

// CronSchedule is a parsed standard 5-field "minute hour dom month dow"
// expression. No pack example carries a cron library (§12 SUPPLEMENTED
// FEATURES); this hand-rolled matcher is the documented stdlib exception.
type CronSchedule struct {
	minute, hour, dom, month, dow cronField
}

// ParseCron parses a 5-field cron expression. Supports '*', single values,
// comma lists, and N-M ranges; step syntax ('*/N') is not supported.
func ParseCron(expr string) (CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return CronSchedule{}, fmt.Errorf("cron expression %q must have 5 fields", expr)
	}
	ranges := []struct{ lo, hi int }{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	parsed := make([]cronField, 5)
	for i, f := range fields {
		cf, err := parseCronField(f, ranges[i].lo, ranges[i].hi)
		if err != nil {
			return CronSchedule{}, fmt.Errorf("cron field %d (%q): %w", i, f, err)
		}
		parsed[i] = cf
	}
	return CronSchedule{minute: parsed[0], hour: parsed[1], dom: parsed[2], month: parsed[3], dow: parsed[4]}, nil
}

func parseCronField(f string, lo, hi int) (cronField, error) {
	out := cronField{}
	if f == "*" {
		return out, nil
	}
	for _, part := range strings.Split(f, ",") {
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			a, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, err
			}
			b, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, err
			}
			for v := a; v <= b; v++ {
				out[v] = struct{}{}
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if v < lo || v > hi {
			return nil, fmt.Errorf("value %d out of range [%d,%d]", v, lo, hi)
		}
		out[v] = struct{}{}
	}
	return out, nil
}

// Matches reports whether t falls on a cron-matched instant, at
// minute-granularity.
func (c CronSchedule) Matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dom.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dow.matches(int(t.Weekday()))
}

// ScheduleLoop is the monotonic clock-driven loop that emits synthetic
// Schedule(cron) events merged into the same task queue as chain-derived
// events (§4.1).
type ScheduleLoop struct {
	router *Router
	log    log.Logger
}

// NewScheduleLoop builds a loop over router.
func NewScheduleLoop(router *Router) *ScheduleLoop {
	return &ScheduleLoop{router: router, log: log.New("component", "ingest-cron")}
}

// Run blocks, calling fire once per minute boundary until ctx is cancelled.
func (s *ScheduleLoop) Run(ctx context.Context, subs func() ([]faas.TriggerSubscription, error), funcs FunctionLookup) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastFired time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			minute := now.Truncate(time.Minute)
			if minute.Equal(lastFired) {
				continue
			}
			lastFired = minute
			s.fire(minute, subs, funcs)
		}
	}
}

func (s *ScheduleLoop) fire(at time.Time, subs func() ([]faas.TriggerSubscription, error), funcs FunctionLookup) {
	all, err := subs()
	if err != nil {
		s.log.Warn("failed to list schedule subscriptions", "err", err)
		return
	}
	for _, sub := range all {
		if sub.Spec.Kind != faas.KindSchedule {
			continue
		}
		cs, err := ParseCron(sub.Spec.Cron)
		if err != nil {
			s.log.Warn("invalid cron expression, skipping", "subscription", sub.ID, "cron", sub.Spec.Cron, "err", err)
			continue
		}
		if !cs.Matches(at) {
			continue
		}
		fn, err := funcs.Latest(sub.FunctionID)
		if err != nil || fn.Lifecycle != faas.LifecycleActive {
			continue
		}
		wallTime := time.Duration(fn.Limits.WallTimeMS) * time.Millisecond
		task, err := faas.NewTask(fn.ID, faas.TriggerInstance{
			SubscriptionID: sub.ID,
			Kind:           faas.KindSchedule,
			Fields:         map[string]interface{}{"fired_at": at.Unix()},
		}, wallTime)
		if err != nil {
			s.log.Warn("failed to mint schedule task", "err", err)
			continue
		}
		if err := s.router.sink.Enqueue(task); err != nil {
			s.log.Warn("failed to enqueue schedule task", "err", err)
		}
	}
}
