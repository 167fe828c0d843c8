package nervous

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/viablekit/nervous-go/contracts"
)

// ErrInsufficientResources is returned by CoordinateResources when the
// offered capacity cannot cover the declared need.
var ErrInsufficientResources = errors.New("nervous: insufficient resources")

// UnitResource declares what one operational unit offers or needs. A unit
// declaring a requirement is treated as a requester even if it also
// offers capacity.
type UnitResource struct {
	Unit      string  `json:"unit"`
	Available float64 `json:"available,omitempty"`
	Required  float64 `json:"required,omitempty"`
}

// Allocation is the coordinator's answer to one requesting unit.
type Allocation struct {
	Unit   string  `json:"unit"`
	Amount float64 `json:"amount"`
}

// CoordinateResources partitions units into offers and requests. When the
// offered total covers the required total it splits the required total
// evenly across the requesting units, broadcasts each allocation on the
// horizontal channel, and returns the allocations. When capacity falls
// short it escalates a resource_shortage signal to System 5 and returns
// ErrInsufficientResources.
//
// The even split is a deliberate simplification: allocations are not
// weighted by individual need.
func (ns *NervousSystem) CoordinateResources(ctx context.Context, coordinator contracts.SystemID, units []UnitResource) ([]Allocation, error) {
	var offers, requests []UnitResource
	var availableTotal, requiredTotal float64
	for _, u := range units {
		if u.Required > 0 {
			requests = append(requests, u)
			requiredTotal += u.Required
			continue
		}
		if u.Available > 0 {
			offers = append(offers, u)
			availableTotal += u.Available
		}
	}

	if len(requests) == 0 {
		return nil, nil
	}

	if availableTotal < requiredTotal {
		sig := contracts.Signal{
			Type:     "resource_shortage",
			Severity: "critical",
			Details: map[string]any{
				"coordinator": string(coordinator),
				"available":   availableTotal,
				"required":    requiredTotal,
			},
		}
		if err := ns.SendAlgedonic(ctx, coordinator, contracts.System5, sig); err != nil {
			ns.logger.Error("resource shortage escalation failed", "error", err)
		}
		return nil, ErrInsufficientResources
	}

	share := requiredTotal / float64(len(requests))
	allocations := make([]Allocation, 0, len(requests))
	for _, r := range requests {
		alloc := Allocation{Unit: r.Unit, Amount: share}
		if err := ns.SendHorizontal(ctx, string(coordinator), "resources", "resource_allocation", alloc); err != nil {
			return nil, fmt.Errorf("allocation broadcast to %s: %w", r.Unit, err)
		}
		allocations = append(allocations, alloc)
	}

	ns.logger.Info("resources coordinated",
		"coordinator", coordinator,
		"offers", len(offers),
		"requests", len(requests),
		"available", availableTotal,
		"required", requiredTotal)
	return allocations, nil
}

// EmergencyBroadcast sends sig on the algedonic channel to every system
// except from. Sends run concurrently with no ordering guarantee between
// recipients; the first error is returned once all sends finish.
func (ns *NervousSystem) EmergencyBroadcast(ctx context.Context, from contracts.SystemID, sig contracts.Signal) error {
	var g errgroup.Group
	for _, target := range contracts.AllSystems() {
		if target == from {
			continue
		}
		target := target
		g.Go(func() error {
			return ns.SendAlgedonic(ctx, from, target, sig)
		})
	}
	return g.Wait()
}

// BroadcastStatusRequest sends a status_request command to each target,
// skipping from. Sends are sequential; the first failure stops the
// broadcast.
func (ns *NervousSystem) BroadcastStatusRequest(ctx context.Context, from contracts.SystemID, statusType string, targets []contracts.SystemID) error {
	cmd := contracts.Command{
		Type:   "status_request",
		Params: map[string]any{"status_type": statusType},
	}
	for _, target := range targets {
		if target == from {
			continue
		}
		if err := ns.SendCommand(ctx, from, target, cmd); err != nil {
			return fmt.Errorf("status request to %s: %w", target, err)
		}
	}
	return nil
}
