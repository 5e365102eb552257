// Package service hosts workflows for the durable engine.
//
// A Registry groups workflows into named services. Handler serves them
// over HTTP: the engine starts or redelivers an execution with
//
//	POST /execute/{service}/{workflow}
//	{"execution_id": "...", "input": {...}}
//
// and lists what is hosted with GET /discover. Successful runs answer
// {"output": <result>}; failures answer {"output": {"error": ..., "details": ...}}
// with status 400 for invalid requests or input, 404 for unknown workflows
// and 500 otherwise.
//
// Each workflow declares how many days the engine keeps its idempotency
// records, between 0 and MaxRetention (default DefaultRetention).
package service
