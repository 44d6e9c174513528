/*
Package resilience keeps flaky collaborators from stalling the pipeline
control plane.

# Circuit breaker

Pipelines publish preview frames many times per second. When the pub/sub
backend is unreachable every publish would otherwise wait for a network
timeout, so publishing goes through a Breaker:

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[successes]-> Closed
	                                             |
	                                         [failure]
	                                             v
	                                           Open

	breaker := resilience.New("publish:pick_and_place", resilience.Settings{
		Cooldown: 5 * time.Second,
	})
	err := breaker.Execute(func() error {
		return broker.Publish(ctx, channel, payload)
	})

# Sleep

Sleep is a context-aware delay for polling loops. Reconnect loops pair it
with github.com/cenkalti/backoff/v4:

	retry := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	for {
		if err := subscribe(); err == nil {
			retry.Reset()
			continue
		}
		wait := retry.NextBackOff()
		if wait == backoff.Stop || resilience.Sleep(ctx, wait) != nil {
			return
		}
	}
*/
package resilience
