// Package alertcache is the alert-dedup cache for C5, adapted from
// aws-karpenter-provider-aws/pkg/cache/unavailableofferings.go's
// TTL-cache-with-eviction-callback shape. The original KubeDoor Python
// (k8s_event/event_alert_processor.py) hand-rolls a dict keyed by eventUid
// plus a "lazy cleanup" pass triggered once the dict grows past 100
// entries; here the TTL *is* ALERT_DEDUP_WINDOW and patrickmn/go-cache's own
// janitor does the sweep, so there is no size-triggered cleanup path to
// port — eviction already happens on a timer.
package alertcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache tracks eventUid -> last-alerted-at, used to suppress a repeat alert
// for the same event within the dedup window (spec.md §4.5).
type Cache struct {
	c *gocache.Cache
}

func New(window time.Duration) *Cache {
	return &Cache{c: gocache.New(window, window/2)}
}

// ShouldAlert reports whether an alert should fire for eventUID right now,
// and records the firing so a repeat within the window is suppressed.
// Grounded on EventAlertProcessor._should_skip_alert / _record_alert.
func (c *Cache) ShouldAlert(eventUID string) bool {
	if _, found := c.c.Get(eventUID); found {
		return false
	}
	c.c.SetDefault(eventUID, time.Now())
	return true
}

// Len reports the current cache size, exposed for stats endpoints mirroring
// get_rule_stats/get_alert_stats.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
