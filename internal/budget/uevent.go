package budget

import (
	"context"

	"github.com/pilebones/go-udev/netlink"

	"convertio/pkg/logx"
)

// powerEvents delivers a signal for every power_supply uevent (plug, unplug, charge
// level steps). It returns nil when the netlink socket is unavailable; callers then
// rely on polling alone.
func powerEvents(ctx context.Context, log logx.Logger) <-chan struct{} {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		log.Debug("netlink unavailable; polling power supply", logx.Err(err))
		return nil
	}

	action := "change|add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": "power_supply"},
	})

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, rules)

	out := make(chan struct{}, 1)
	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				close(quit)
				return
			case <-queue:
				select {
				case out <- struct{}{}:
				default:
				}
			case err := <-errs:
				log.Debug("netlink monitor error", logx.Err(err))
			}
		}
	}()
	return out
}
