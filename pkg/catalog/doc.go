// Package catalog documents the demo action catalog and provides simulated
// implementations of it.
//
// Each simulated action sleeps for its nominal duration, scaled by the
// simulator's time scale, and fails with its documented probability:
//
//	action              duration  failure  default policy
//	validate_payment    8s        50%      exponential, 3 retries
//	reserve_inventory   10s       50%      linear, 2 retries
//	process_refund      9s        90%      exponential, 3 retries
//	send_notification   6s        0%       constant, 2 retries
//	create_user         7s        0%       exponential, 2 retries
//	check_order_status  5s        0%       constant, 1 retry
//
// A seeded simulator is reproducible when actions run sequentially.
package catalog
