// Package execution runs workflow actions on behalf of a durable execution
// engine.
//
// A Coordinator takes a Request naming an action identity (workflow
// instance, action name, optional fan-out index or custom name), runs the
// action through its backoff.Policy and reports every transition to an
// EngineClient: started, each failed attempt, and the terminal completed or
// failed outcome.
//
// Terminal outcomes are kept in a completion cache keyed by identity, so a
// repeated request for the same identity returns the recorded outcome
// without running the action again. Outcomes the engine has not
// acknowledged are pinned; acknowledged ones move to a bounded LRU tier and
// may be persisted through a CompletionStore.
//
// Basic usage:
//
//	coord, err := execution.NewCoordinator(client,
//		execution.WithLogger(logger),
//		execution.WithStore(store),
//	)
//	charge := execution.Declare("charge", chargeCard,
//		backoff.Must(backoff.Exponential, time.Second, 3))
//	receipt, err := execution.Run[Receipt](ctx, coord, executionID, charge, order)
package execution
