// Package demo implements the demo workflows on top of the execution
// coordinator and the simulated action catalog.
//
// Workflows:
//
//   - process_order: validate payment, reserve every item concurrently
//     (reserve_inventory_0, reserve_inventory_1, ...), notify the customer
//   - get_order_status: look up an order
//   - register_user: create a user, send a welcome notification
//   - process_refund: check the order (pre_refund_order_check), refund,
//     notify finance
//   - verify_payment_and_notify: validate a payment
//     (primary_payment_validation), notify an admin
//
// Host serves them as the orders (process_order, get_order_status), users
// (register_user) and payments (process_refund, verify_payment_and_notify)
// services.
package demo
