// Package demoactor wires a minimal counter actor kind so cmd/actord
// has something concrete to serve. It plays the role teranos/QNTX's
// domain packages play relative to server.go: a consumer of the
// runtime, not part of it.
package demoactor

import (
	"context"

	"github.com/teranos/actorcore/actor"
	"github.com/teranos/actorcore/codec"
)

// CounterState is the example actor's persisted state root.
type CounterState struct {
	Count int64 `cbor:"count"`
}

// ConnState is empty: this demo has no per-connection state of its own.
type ConnState struct{}

// incrementArgs decodes the "increment" action's CBOR args.
type incrementArgs struct {
	Amount int64 `cbor:"amount"`
}

// Hooks returns the lifecycle hook set for the counter actor kind.
func Hooks() actor.Hooks[CounterState, ConnState] {
	return actor.Hooks[CounterState, ConnState]{
		CreateState: func(ctx context.Context, input []byte) (CounterState, error) {
			return CounterState{}, nil
		},
	}
}

// Actions returns the named action map for the counter actor kind.
func Actions() map[string]actor.ActionFunc[CounterState, ConnState] {
	return map[string]actor.ActionFunc[CounterState, ConnState]{
		"increment": func(ctx context.Context, o *actor.Orchestrator[CounterState, ConnState], args []byte) (any, error) {
			var in incrementArgs
			if err := codec.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			if in.Amount == 0 {
				in.Amount = 1
			}
			var count int64
			if err := o.Mutate(ctx, func(s *CounterState) {
				s.Count += in.Amount
				count = s.Count
			}); err != nil {
				return nil, err
			}
			return count, nil
		},
		"getCount": func(ctx context.Context, o *actor.Orchestrator[CounterState, ConnState], args []byte) (any, error) {
			var count int64
			if err := o.Mutate(ctx, func(s *CounterState) {
				count = s.Count
			}); err != nil {
				return nil, err
			}
			return count, nil
		},
	}
}
