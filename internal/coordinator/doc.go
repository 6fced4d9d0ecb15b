// Package coordinator schedules periodic data fetches and shares the latest
// snapshot with any number of listeners.
//
// One Coordinator owns one data source. It fetches on a fixed interval (and
// on demand through Refresh), keeps the most recent successful snapshot,
// tracks whether the last fetch succeeded, and notifies listeners after
// every attempt so that dependent state (entity availability, published
// values) can be recomputed.
//
// Fetch mode: the first fetch, and every fetch that follows a failure, is a
// full fetch. All others are incremental. The data source decides what the
// distinction means.
//
// Thread Safety: all methods are safe for concurrent use. At most one fetch
// is in flight at any time; snapshot reads never block on a fetch.
//
// Example:
//
//	c, err := coordinator.New(coordinator.Config[*scgi.Device]{
//	    Name:     "cybro",
//	    Interval: 10 * time.Second,
//	    Update:   client.Update,
//	})
//	if err != nil {
//	    return err
//	}
//	remove := c.AddListener(func() { refreshEntities(c) })
//	defer remove()
//	go c.Run(ctx)
package coordinator
