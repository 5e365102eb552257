// Package engineclient provides execution.EngineClient implementations.
//
// HTTPClient speaks the durable engine's log protocol: every state
// transition of an action is a PATCH to
// {base}/executions/{execution id}/log/{action name}. Local is an
// in-process engine that keeps a journal of reports and can emit abort and
// redelivery signals; the CLI and tests use it when no engine is running.
package engineclient
