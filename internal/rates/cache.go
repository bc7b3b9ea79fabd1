package rates

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Cached memoizes quotes from an underlying oracle with a TTL, so repeated
// lookups of the same pair do not hit the source on every request.
type Cached struct {
	oracle Oracle
	cache  *cache.Cache
	ttl    time.Duration
}

func NewCached(oracle Oracle, ttl time.Duration) *Cached {
	return &Cached{
		oracle: oracle,
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
	}
}

func (c *Cached) Rate(from, to string) (float64, error) {
	key := from + "_" + to
	if cached, found := c.cache.Get(key); found {
		logrus.WithFields(logrus.Fields{
			"from": from,
			"to":   to,
		}).Debug("rate retrieved from cache")
		return cached.(float64), nil
	}

	rate, err := c.oracle.Rate(from, to)
	if err != nil {
		return 0, err
	}

	c.cache.Set(key, rate, c.ttl)
	logrus.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
		"rate": rate,
	}).Debug("rate cached")
	return rate, nil
}
